// Package export writes a run's record, its rendering and its report to a
// directory or an S3 bucket.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"openeconomy/internal/config"
	"openeconomy/internal/model"
	"openeconomy/internal/reasoning"
	"openeconomy/internal/record"
)

// Sink stores one object per key.
type Sink interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
}

// Export writes <runID>/record.json, <runID>/record.txt and <runID>/report.json
// and returns the keys written. Rendering uses spec as given.
func Export(ctx context.Context, sink Sink, runID string, rec *record.Record, spec *model.Spec) ([]string, error) {
	recordJSON, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	reportJSON, err := json.MarshalIndent(reasoning.New(rec, spec).Report(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	objects := []struct {
		name, contentType string
		body              []byte
	}{
		{"record.json", "application/json", recordJSON},
		{"record.txt", "text/plain; charset=utf-8", []byte(rec.HumanReadable(spec) + "\n")},
		{"report.json", "application/json", reportJSON},
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		key := path.Join(runID, obj.name)
		if err := sink.Put(ctx, key, obj.contentType, obj.body); err != nil {
			return keys, fmt.Errorf("put %s: %w", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// FSSink writes objects below Dir, creating directories as needed.
type FSSink struct {
	Dir string
}

func (s FSSink) Put(_ context.Context, key, _ string, body []byte) error {
	if strings.Contains(key, "..") {
		return fmt.Errorf("invalid key %q", key)
	}
	dest := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, body, 0o644)
}

// S3Sink writes objects to an S3-compatible bucket under an optional prefix.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Sink builds a client from the default AWS credential chain.
func NewS3Sink(ctx context.Context, cfg config.S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
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
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3SinkWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func NewS3SinkWithClient(client *s3.Client, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Sink) Put(ctx context.Context, key, contentType string, body []byte) error {
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	return err
}

// Location describes where a sink writes, for logs and events.
func Location(sink Sink) string {
	switch s := sink.(type) {
	case FSSink:
		return s.Dir
	case *S3Sink:
		if s.prefix != "" {
			return "s3://" + s.bucket + "/" + s.prefix
		}
		return "s3://" + s.bucket
	default:
		return fmt.Sprintf("%T", sink)
	}
}
