// Package blobstore stores content-addressed artifacts (RuleVersion
// backups, model snapshots, CSV export archives) in an S3-compatible
// bucket. It generalizes the teacher's internal/reliability R2BackupService:
// the same Upload/List/Delete/checksum shape, aimed at versioned
// decisioning artifacts instead of whole-database tar.gz backups.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// uploaderAPI is the slice of manager.Uploader's dependency the Store
// needs — satisfied by *s3.Client, substitutable in tests.
type uploaderAPI interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Config holds the connection parameters for an S3-compatible endpoint
// (Cloudflare R2, MinIO, or AWS S3 itself).
type Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Endpoint        string // non-empty to override AWS's default resolver (R2/MinIO)
}

// api is the narrow slice of *s3.Client's methods Store depends on, kept
// separate from the concrete client so tests can substitute a fake —
// the same accept-narrow-interfaces convention used for every other
// Store-adjacent dependency in this module.
type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store wraps an S3 client scoped to one bucket.
type Store struct {
	client   api
	uploader uploaderAPI
	bucket   string
	log      zerolog.Logger
}

// New builds a Store from cfg. A non-empty Endpoint configures a custom
// resolver, matching how Cloudflare R2's S3-compatible endpoint is wired
// in the teacher's deployment. Uploads go through manager.Uploader so
// large RuleVersion/model-snapshot artifacts multipart automatically.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
		config.WithRegion("auto"),
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		log:      log.With().Str("component", "blobstore").Logger(),
	}, nil
}

// Object describes one stored artifact.
type Object struct {
	Key       string
	SizeBytes int64
	Checksum  string // "sha256:<hex>"
	UpdatedAt time.Time
}

// Put uploads data under key, returning its SHA-256 checksum. The caller
// is expected to have already produced a deterministic key (e.g. a
// content hash or a RuleVersion ID) so repeated Put calls with identical
// content are idempotent at the object-store level.
func (s *Store) Put(ctx context.Context, key string, data []byte) (checksum string, err error) {
	sum := sha256.Sum256(data)
	checksum = "sha256:" + hex.EncodeToString(sum[:])

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: put %s: %w", key, err)
	}

	s.log.Info().Str("key", key).Int("size", len(data)).Msg("artifact uploaded")
	return checksum, nil
}

// Get downloads the object stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", key, err)
	}
	return data, nil
}

// List returns objects whose key starts with prefix, newest first —
// mirroring the teacher's ListBackups sort (used here to find the latest
// rule/model artifact under a given prefix).
func (s *Store) List(ctx context.Context, prefix string) ([]Object, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: list %s: %w", prefix, err)
	}

	objects := make([]Object, 0, len(out.Contents))
	for _, o := range out.Contents {
		if o.Key == nil {
			continue
		}
		var size int64
		if o.Size != nil {
			size = *o.Size
		}
		var updated time.Time
		if o.LastModified != nil {
			updated = *o.LastModified
		}
		objects = append(objects, Object{
			Key:       *o.Key,
			SizeBytes: size,
			UpdatedAt: updated,
		})
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].UpdatedAt.After(objects[j].UpdatedAt)
	})
	return objects, nil
}

// Delete removes the object stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("blobstore: delete %s: %w", key, err)
	}
	return nil
}

// RuleVersionKey derives the canonical storage key for a RuleVersion
// backup, keyed by tenant and version ID so rollback can address any
// prior version directly.
func RuleVersionKey(tenant, versionID string) string {
	return fmt.Sprintf("rule-versions/%s/%s.msgpack", tenant, versionID)
}

// ModelSnapshotKey derives the canonical storage key for a retrained
// classifier snapshot, per the model_backup_<ts> naming internal/retrainer
// produces.
func ModelSnapshotKey(tenant, backupName string) string {
	return fmt.Sprintf("model-snapshots/%s/%s", tenant, backupName)
}

// ExportArchiveKey derives the canonical storage key for an exported CSV
// batch.
func ExportArchiveKey(tenant, target string, ts time.Time) string {
	clean := strings.ToLower(target)
	return fmt.Sprintf("exports/%s/%s/%s.csv", tenant, clean, ts.Format("2006-01-02-150405"))
}
