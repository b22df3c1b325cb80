package report

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/copyleftdev/promptforge/internal/optimization"
)

// ObjectPutter is the subset of *s3.Client the reporter needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads each result as a JSON object.
type S3 struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewS3 creates an S3 reporter. Keys are prefix + FileName(result).
func NewS3(client ObjectPutter, bucket, prefix string) (*S3, error) {
	if client == nil || bucket == "" {
		return nil, optimization.ConfigurationError("report", "S3 reporter requires a client and bucket")
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}, nil
}

// Key returns the object key for a result.
func (s *S3) Key(result *optimization.Result) string {
	return path.Join(s.prefix, FileName(result))
}

// Report implements optimization.Reporter.
func (s *S3) Report(ctx context.Context, result *optimization.Result) error {
	if result == nil {
		return nil
	}
	data, err := Encode(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	key := s.Key(result)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
