// Package storage uploads avatars and portfolio files to the platform's
// S3-compatible object storage and hands out URLs for them.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/xid"

	"github.com/sakif/crewcall/internal/apperror"
)

// MaxObjectSize bounds a single upload.
const MaxObjectSize = 10 << 20

const defaultSignedTTL = 15 * time.Minute

// Config points at a bucket.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// PublicURL is the base under which public objects are served, e.g.
	// "https://api.example.com/storage/v1/object/public/avatars". Empty means
	// path-style URLs on Endpoint.
	PublicURL string
}

// Store is an object store bucket.
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	public  string
	logger  *slog.Logger
}

// New creates a Store. Any S3-compatible endpoint works; path-style
// addressing is used because self-hosted gateways rarely serve
// bucket subdomains.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("storage: access key and secret key are required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage: invalid endpoint %q", cfg.Endpoint)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(strings.TrimRight(cfg.Endpoint, "/"))
	})

	public := strings.TrimRight(cfg.PublicURL, "/")
	if public == "" {
		public = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}

	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		public:  public,
		logger:  logger,
	}, nil
}

// Upload stores body under a fresh key in userID's folder and returns the key.
// name only contributes its extension; keys never collide across uploads, so a
// new avatar never serves a stale cached image.
func (s *Store) Upload(ctx context.Context, userID, name string, body io.Reader, contentType string) (string, error) {
	if userID == "" {
		return "", apperror.ValidationFailed("user_id", "user id is required")
	}

	// The SDK signs the payload, which needs a seekable body of known length.
	data, err := io.ReadAll(io.LimitReader(body, MaxObjectSize+1))
	if err != nil {
		return "", fmt.Errorf("storage: reading upload: %w", err)
	}
	if len(data) > MaxObjectSize {
		return "", apperror.ValidationFailed("file", "file is larger than 10 MB")
	}

	key := userID + "/" + xid.New().String() + strings.ToLower(path.Ext(name))

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("storage: uploading %s: %w", key, err)
	}

	s.logger.Info("object uploaded",
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return key, nil
}

// PublicURL returns the URL of a key in a public bucket.
func (s *Store) PublicURL(key string) string {
	return s.public + "/" + strings.TrimLeft(key, "/")
}

// SignedURL returns a time-limited GET URL for a key in a private bucket.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if key == "" {
		return "", apperror.ValidationFailed("key", "object key is required")
	}
	if ttl <= 0 {
		ttl = defaultSignedTTL
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("storage: signing %s: %w", key, err)
	}
	return req.URL, nil
}

// Delete removes a key. Removing a missing key succeeds.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("storage: deleting %s: %w", key, err)
	}
	return nil
}
