package presign

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Verb is the single operation a signed URL is scoped to.
type Verb string

const (
	VerbRead  Verb = "read"  // GET of one object
	VerbWrite Verb = "write" // PUT of one object
)

// Config holds object-store connection settings. Endpoint and path-style
// addressing support MinIO-compatible stores.
type Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// FromEnv reads the object-store settings from the environment.
func FromEnv() Config {
	return Config{
		Region:          getenv("AWS_S3_REGION", "us-east-1"),
		Endpoint:        os.Getenv("AWS_S3_ENDPOINT"),
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		UsePathStyle:    os.Getenv("AWS_S3_USE_PATH_STYLE") == "true",
	}
}

// Signer issues time-boxed, single-verb, single-object URLs. Signing is a
// local SigV4 computation; the signer holds no state and never embeds the
// long-lived credential in the URLs it produces.
type Signer struct {
	presigner *s3.PresignClient
}

// New builds a signer from static credentials.
func New(ctx context.Context, cfg Config) (*Signer, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("presign: object store credentials not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("presign: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Signer{presigner: s3.NewPresignClient(client)}, nil
}

// Presign produces a URL valid for exactly one verb on exactly one object,
// unusable after ttl elapses.
func (s *Signer) Presign(ctx context.Context, bucket, key string, verb Verb, ttl time.Duration) (string, error) {
	if bucket == "" || key == "" {
		return "", errors.New("presign: bucket and key are required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("presign: ttl must be positive, got %s", ttl)
	}

	switch verb {
	case VerbRead:
		out, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
		if err != nil {
			return "", fmt.Errorf("presign GET %s/%s: %w", bucket, key, err)
		}
		return out.URL, nil

	case VerbWrite:
		out, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
		if err != nil {
			return "", fmt.Errorf("presign PUT %s/%s: %w", bucket, key, err)
		}
		return out.URL, nil

	default:
		return "", fmt.Errorf("presign: unsupported verb %q", verb)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
