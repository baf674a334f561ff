package archive

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/env"
)

// Config holds the raw callback archive configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads the archive configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "eu-north-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          strings.Trim(env.GetEnv("S3_ARCHIVE_PREFIX", "webhooks"), "/"),
		Enabled:         env.GetBool("S3_ARCHIVE_ENABLED", false),
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when the webhook archive is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when the webhook archive is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the webhook archive is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if archiving is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// GetObjectKey generates the object key of an archived callback body
func (c *Config) GetObjectKey(orderID uint, eventID string, at time.Time) string {
	// Format: <prefix>/YYYY/MM/DD/<order>-<event>.json
	key := fmt.Sprintf("%04d/%02d/%02d/%d-%s.json", at.Year(), at.Month(), at.Day(), orderID, sanitize(eventID))
	if c.Prefix == "" {
		return key
	}
	return c.Prefix + "/" + key
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	return env.GetEnv("APP_ENV", "dev")
}

// event ids are provider URLs ("/psp/creditcard/payments/.../transactions/...")
func sanitize(eventID string) string {
	eventID = strings.Trim(eventID, "/")
	if i := strings.LastIndex(eventID, "/"); i >= 0 {
		eventID = eventID[i+1:]
	}
	eventID = strings.NewReplacer(":", "-", " ", "_").Replace(eventID)
	if eventID == "" {
		return "unknown"
	}
	return eventID
}
