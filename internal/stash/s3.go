package stash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	metaBuiltAt     = "built-at"
	metaContentHash = "content-hash"
)

// S3 implements Stash on an S3-compatible backend (AWS S3 or MinIO).
// Single bucket; fingerprints map to object keys under the configured prefix.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config holds explicit construction parameters
type S3Config struct {
	Region    string
	Bucket    string
	Endpoint  string // optional; if set enables custom endpoint (e.g. MinIO)
	PathStyle bool
	Prefix    string
}

// NewS3 creates an S3 stash from S3Config. Credentials come from the default
// AWS credential chain.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 stash bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3) Put(ctx context.Context, key string, data []byte, meta Meta) error {
	objKey := s.key(key)
	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &objKey,
		Body:   bytes.NewReader(data),
		Metadata: map[string]string{
			metaBuiltAt:     meta.BuiltAt.UTC().Format(time.RFC3339Nano),
			metaContentHash: meta.ContentHash,
		},
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("stash put %s: %w", key, err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, Meta, error) {
	objKey := s.key(key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &objKey})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, Meta{}, ErrAbsent
		}
		return nil, Meta{}, fmt.Errorf("stash get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("stash read %s: %w", key, err)
	}
	return data, metaFromObject(out.Metadata), nil
}

func (s *S3) Head(ctx context.Context, key string) (Meta, error) {
	objKey := s.key(key)
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &objKey})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return Meta{}, ErrAbsent
		}
		return Meta{}, fmt.Errorf("stash head %s: %w", key, err)
	}
	return metaFromObject(out.Metadata), nil
}

func (s *S3) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func metaFromObject(md map[string]string) Meta {
	var meta Meta
	if v, ok := md[metaBuiltAt]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			meta.BuiltAt = t
		}
	}
	meta.ContentHash = md[metaContentHash]
	return meta
}
