package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pavelanni/proctor/internal/metrics"
)

const (
	s3Attempts       = 3
	s3AttemptTimeout = 30 * time.Second
	s3MaxBackoff     = 2 * time.Second
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink writes each chunk as its own object under
// <prefix>/<exam_id>/<session_id>/ and a manifest on finalize.
type S3Sink struct {
	client  objectPutter
	bucket  string
	prefix  string
	backoff time.Duration
}

// NewS3Sink loads the default AWS configuration for region and creates a
// sink. Retries are done here, so SDK retries are disabled.
func NewS3Sink(ctx context.Context, region, bucket, prefix string) (*S3Sink, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 1
	})
	return &S3Sink{client: client, bucket: bucket, prefix: prefix, backoff: 200 * time.Millisecond}, nil
}

func (s *S3Sink) key(examID, sessionID, name string) string {
	return path.Join(s.prefix, examID, sessionID, name)
}

// Start is a no-op: chunk keys are unique per session.
func (s *S3Sink) Start(context.Context, string, string) error { return nil }

func (s *S3Sink) WriteChunk(ctx context.Context, examID, sessionID string, index int, data []byte) error {
	key := s.key(examID, sessionID, fmt.Sprintf("chunk-%06d.webm", index))
	if err := s.put(ctx, key, "video/webm", data); err != nil {
		return err
	}
	metrics.VideoBytes.WithLabelValues("s3").Add(float64(len(data)))
	return nil
}

func (s *S3Sink) Finalize(ctx context.Context, examID, sessionID string, chunks int, bytes int64) (Info, error) {
	info := Info{
		Location: fmt.Sprintf("s3://%s/%s", s.bucket, s.key(examID, sessionID, "")),
		Chunks:   chunks,
		Bytes:    bytes,
	}
	manifest, err := json.Marshal(info)
	if err != nil {
		return Info{}, err
	}
	if err := s.put(ctx, s.key(examID, sessionID, "manifest.json"), "application/json", manifest); err != nil {
		return Info{}, err
	}
	return info, nil
}

// put uploads body with exponential backoff between attempts.
func (s *S3Sink) put(ctx context.Context, key, contentType string, body []byte) error {
	var lastErr error
	backoff := s.backoff
	for attempt := 1; attempt <= s3Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		actx, cancel := context.WithTimeout(ctx, s3AttemptTimeout)
		_, err := s.client.PutObject(actx, &s3.PutObjectInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
			ContentType:   aws.String(contentType),
		})
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("s3 put failed", "key", key, "attempt", attempt, "error", err)

		if attempt == s3Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(backoff*2, s3MaxBackoff)
		}
	}
	return fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, lastErr)
}
