package router

import (
	"context"
	"net/http"
	"regexp"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAPIPath = "../../../docs/openapi.yml"

var routeParam = regexp.MustCompile(`:(\w+)`)

// Routes without a JSON contract.
var undocumented = map[string]bool{
	"/metrics": true,
	"/api":     true,
	"/api/":    true,
}

func TestOpenAPIDocumentIsValid(t *testing.T) {
	doc, err := openapi3.NewLoader().LoadFromFile(openAPIPath)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
}

func TestEveryRouteIsDocumented(t *testing.T) {
	doc, err := openapi3.NewLoader().LoadFromFile(openAPIPath)
	require.NoError(t, err)

	app := newTestApp(100)
	for _, r := range app.GetRoutes(true) {
		if r.Method == http.MethodHead || undocumented[r.Path] {
			continue
		}
		path := routeParam.ReplaceAllString(r.Path, "{$1}")
		item := doc.Paths.Value(path)
		if !assert.NotNil(t, item, "route %s %s missing from openapi.yml", r.Method, r.Path) {
			continue
		}
		assert.NotNil(t, item.GetOperation(r.Method), "operation %s %s missing from openapi.yml", r.Method, path)
	}
}
