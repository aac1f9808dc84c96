package eventarchive

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/CopyFox/app/models"
	"github.com/ManuelReschke/CopyFox/internal/pkg/env"
)

// Config holds the archive bucket configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	BatchSize       int
	Enabled         bool
}

// LoadConfig loads the archive configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("ARCHIVE_S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("ARCHIVE_S3_BUCKET", ""),
		EndpointURL:     env.GetEnv("ARCHIVE_S3_ENDPOINT_URL", ""),
		Prefix:          strings.Trim(env.GetEnv("ARCHIVE_S3_PREFIX", "webhooks"), "/"),
		BatchSize:       env.GetEnvInt("ARCHIVE_BATCH_SIZE", 200),
		Enabled:         env.GetEnvBool("ARCHIVE_ENABLED", false),
	}

	// Validate required fields if the archive is enabled
	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("ARCHIVE_S3_ACCESS_KEY_ID is required when the archive is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("ARCHIVE_S3_SECRET_ACCESS_KEY is required when the archive is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("ARCHIVE_S3_BUCKET is required when the archive is enabled")
		}
	}
	return config, nil
}

// ObjectKey returns where an event is stored:
// <prefix>/<provider>/YYYY/MM/DD/<row id>-<provider event id>.json
func (c *Config) ObjectKey(event *models.BillingWebhookEvent) string {
	at := event.ReceivedAt.UTC()
	if at.IsZero() {
		at = time.Unix(0, 0).UTC()
	}
	name := fmt.Sprintf("%d-%s.json", event.ID, sanitizeKeyPart(event.ProviderEventID))
	key := fmt.Sprintf("%s/%04d/%02d/%02d/%s", sanitizeKeyPart(event.Provider), at.Year(), int(at.Month()), at.Day(), name)
	if c.Prefix != "" {
		key = c.Prefix + "/" + key
	}
	return key
}

func sanitizeKeyPart(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
