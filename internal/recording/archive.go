package recording

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

// s3API is the subset of *s3.Client this package calls, grounded on the
// teacher's internal/archive.S3API.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive writes recording bytes to S3 for durability past the 24h Redis
// TTL (SPEC_FULL.md's domain-stack wiring for aws-sdk-go-v2/service/s3).
type Archive struct {
	bucket string
	client s3API
	logger *logging.Logger
}

// NewArchive builds an Archive. If bucket is empty, every call is a no-op,
// matching the teacher's archive.Store.Enabled pattern.
func NewArchive(client s3API, bucket string, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.Default()
	}
	return &Archive{bucket: bucket, client: client, logger: logger}
}

// Enabled reports whether archival is configured.
func (a *Archive) Enabled() bool {
	return a != nil && a.bucket != "" && a.client != nil
}

// Put archives one recording segment under a date-partitioned key.
func (a *Archive) Put(ctx context.Context, encodedPhone, startTimestamp string, typ Type, artifact Artifact) error {
	if !a.Enabled() {
		return nil
	}
	key := fmt.Sprintf("recordings/%s/%s/%s.audio", encodedPhone, startTimestamp, typ)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(artifact.Bytes),
		ContentType: aws.String(artifact.ContentType),
	})
	if err != nil {
		return fmt.Errorf("recording: s3 archive put %s: %w", key, err)
	}
	a.logger.Info("recording: archived to s3", "key", key, "bytes", len(artifact.Bytes))
	return nil
}
