package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"staybook/internal/app/policies"
)

// Exporter writes reconciliation snapshots of open payment issues to an
// S3-compatible bucket. Objects stay private; the returned location is an
// s3:// URI for the finance tooling.
type Exporter struct {
	bucket         string
	prefix         string
	client         *minio.Client
	logger         *slog.Logger
	bucketInitOnce sync.Once
	bucketInitErr  error
}

type Config struct {
	Endpoint  string
	UseSSL    bool
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
}

// NewExporter configures the MinIO client.
func NewExporter(cfg Config, logger *slog.Logger) (*Exporter, error) {
	cleanEndpoint := strings.TrimSpace(cfg.Endpoint)
	if cleanEndpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
	}
	minioClient, err := minio.New(parseEndpoint(cleanEndpoint), opts)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	prefix := strings.Trim(strings.TrimSpace(cfg.Prefix), "/")
	if prefix == "" {
		prefix = "reconciliation"
	}
	return &Exporter{bucket: bucket, prefix: prefix, client: minioClient, logger: logger}, nil
}

// Export uploads rows as one JSON document. An empty snapshot is still
// written so that a run with nothing outstanding is visible.
func (e *Exporter) Export(ctx context.Context, generatedAt time.Time, rows []policies.PaymentIssueRow) (string, error) {
	if err := e.ensureBucket(ctx); err != nil {
		return "", err
	}
	body, err := EncodeSnapshot(generatedAt, rows)
	if err != nil {
		return "", err
	}
	key := ObjectKey(e.prefix, generatedAt)
	_, err = e.client.PutObject(ctx, e.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("s3: put object: %w", err)
	}
	location := fmt.Sprintf("s3://%s/%s", e.bucket, key)
	e.logger.Info("reconciliation export written", "location", location, "rows", len(rows))
	return location, nil
}

// Ping checks that the bucket is reachable; used by the readiness probe.
func (e *Exporter) Ping(ctx context.Context) error {
	_, err := e.client.BucketExists(ctx, e.bucket)
	return err
}

type snapshot struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	Count       int                        `json:"count"`
	Rows        []policies.PaymentIssueRow `json:"rows"`
}

// EncodeSnapshot renders the uploaded document.
func EncodeSnapshot(generatedAt time.Time, rows []policies.PaymentIssueRow) ([]byte, error) {
	if rows == nil {
		rows = []policies.PaymentIssueRow{}
	}
	return json.MarshalIndent(snapshot{GeneratedAt: generatedAt.UTC(), Count: len(rows), Rows: rows}, "", "  ")
}

// ObjectKey partitions exports by day: <prefix>/2025/03/01/payment-issues-120000Z.json.
func ObjectKey(prefix string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%s/payment-issues-%sZ.json", strings.Trim(prefix, "/"), at.Format("2006/01/02"), at.Format("150405"))
}

func (e *Exporter) ensureBucket(ctx context.Context) error {
	e.bucketInitOnce.Do(func() {
		exists, err := e.client.BucketExists(ctx, e.bucket)
		if err != nil {
			e.bucketInitErr = fmt.Errorf("s3: check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := e.client.MakeBucket(ctx, e.bucket, minio.MakeBucketOptions{}); err != nil {
			e.bucketInitErr = fmt.Errorf("s3: create bucket: %w", err)
		}
	})
	return e.bucketInitErr
}

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

var _ policies.ReconciliationExporter = (*Exporter)(nil)
