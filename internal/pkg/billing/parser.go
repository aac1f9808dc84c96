package billing

import (
	"time"
)

// Parser turns a stored provider payload into a NormalizedEvent. Parse
// errors are permanent for the payload and are classified as fatal by the
// engine. Unsupported event types parse to KindUnknown.
type Parser interface {
	Provider() string
	Parse(eventType string, payload []byte, receivedAt time.Time) (*NormalizedEvent, error)
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
