// Package archive keeps a copy of every generated inventory summary outside
// the farm database, either in an S3 bucket or on local disk.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"farm-jobs/internal/config"
	"farm-jobs/internal/models"
)

// Uploader stores one object and returns where it landed.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Archiver writes summaries through an Uploader.
type Archiver struct {
	uploader Uploader
	now      func() time.Time
}

// New picks S3 when a bucket is configured, else local disk when a directory
// is configured. It returns nil when archiving is disabled.
func New(ctx context.Context, cfg config.Config) (*Archiver, error) {
	switch {
	case cfg.ArchiveS3Bucket != "":
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewWithUploader(&s3Uploader{client: client, bucket: cfg.ArchiveS3Bucket}), nil
	case cfg.ArchiveLocalDir != "":
		return NewWithUploader(&localUploader{baseDir: cfg.ArchiveLocalDir}), nil
	}
	return nil, nil
}

// NewWithUploader wraps an arbitrary uploader.
func NewWithUploader(u Uploader) *Archiver {
	return &Archiver{uploader: u, now: time.Now}
}

type record struct {
	UserID      string                    `json:"userId"`
	GeneratedAt time.Time                 `json:"generatedAt"`
	Summary     models.AiInventorySummary `json:"summary"`
}

// Save stores summary under summaries/<userId>/<timestamp>.json.
func (a *Archiver) Save(ctx context.Context, userID string, summary models.AiInventorySummary) (string, error) {
	at := a.now().UTC()
	body, err := json.MarshalIndent(record{UserID: userID, GeneratedAt: at, Summary: summary}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	key := Key(userID, at)
	loc, err := a.uploader.Upload(ctx, key, body, "application/json")
	if err != nil {
		return "", fmt.Errorf("archive summary: %w", err)
	}
	return loc, nil
}

// Key builds the object key for a summary generated at t.
func Key(userID string, t time.Time) string {
	return fmt.Sprintf("summaries/%s/%s.json", sanitizeSegment(userID), t.UTC().Format("20060102T150405.000Z"))
}

func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		return "_"
	}
	return s
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ArchiveS3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ArchiveS3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.ArchiveS3Endpoint)
		}
		o.UsePathStyle = cfg.ArchiveS3PathStyle
	}), nil
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
