package s3evidence

import (
	"errors"

	"github.com/firmaentrega/backend/internal/pkg/env"
)

// Config holds evidence bucket configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
}

// LoadConfig loads the S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_EVIDENCE_BUCKET", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
	}

	if config.AccessKeyID == "" {
		return nil, errors.New("S3_ACCESS_KEY_ID is required")
	}
	if config.SecretAccessKey == "" {
		return nil, errors.New("S3_SECRET_ACCESS_KEY is required")
	}
	if config.BucketName == "" {
		return nil, errors.New("S3_EVIDENCE_BUCKET is required")
	}

	return config, nil
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	return env.GetEnv("APP_ENV", "dev")
}
