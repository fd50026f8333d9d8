package sync

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alfredjeanlab/homewatch/internal/s3client"
)

// DatePlaceholder in an export key is replaced with the UTC export date, so
// "exports/{date}/events.jsonl" keeps one object per day.
const DatePlaceholder = "{date}"

// S3Destination uploads the event export to an S3-compatible bucket.
type S3Destination struct {
	client *s3.Client
	bucket string
	key    string
	now    func() time.Time
}

// NewS3Destination builds its client through s3client, so a non-empty
// endpoint switches to path-style addressing.
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 export: bucket and key are required")
	}
	client, err := s3client.New(ctx, region, endpoint)
	if err != nil {
		return nil, err
	}
	return &S3Destination{client: client, bucket: bucket, key: key, now: time.Now}, nil
}

// ObjectKey resolves the configured key for the current export.
func (d *S3Destination) ObjectKey() string {
	if !strings.Contains(d.key, DatePlaceholder) {
		return d.key
	}
	return strings.ReplaceAll(d.key, DatePlaceholder, d.now().UTC().Format(time.DateOnly))
}

func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	key := d.ObjectKey()
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", key, err)
	}
	return nil
}
