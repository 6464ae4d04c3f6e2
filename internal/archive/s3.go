package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssdkconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/internal/partition"
	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/retry"
	"github.com/auditvault/auditperf/pkg/types"
	"github.com/auditvault/auditperf/pkg/utils"
)

// Uploader is the subset of the S3 API the archiver needs. *s3.Client
// satisfies it.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Stats counts archive activity since creation.
type Stats struct {
	Archives      uint64 `json:"archives"`
	Failures      uint64 `json:"failures"`
	Rows          uint64 `json:"rows"`
	BytesUploaded uint64 `json:"bytes_uploaded"`
}

// Option customizes an S3Archiver.
type Option func(*S3Archiver)

// WithRetry replaces the upload retry policy.
// Errors without a code, as the SDK returns them, are retried either way.
func WithRetry(cfg retry.Config) Option {
	return func(a *S3Archiver) { a.retry = cfg }
}

// WithClock replaces the wall clock used in object metadata.
func WithClock(now func() time.Time) Option {
	return func(a *S3Archiver) { a.now = now }
}

// S3Archiver writes partitions to S3 as zstd-compressed JSON Lines before
// they are dropped.
type S3Archiver struct {
	uploader     Uploader
	transporter  *cargoships3.Transporter
	bucket       string
	prefix       string
	storageClass string
	batchSize    int
	retry        retry.Config
	now          func() time.Time
	logger       *slog.Logger

	archives      atomic.Uint64
	failures      atomic.Uint64
	rows          atomic.Uint64
	bytesUploaded atomic.Uint64
}

var _ partition.Archiver = (*S3Archiver)(nil)

// NewS3Archiver loads the AWS configuration and builds an archiver for
// cfg.Bucket. Static credentials are used when both keys are set; otherwise
// the default AWS credential chain applies.
func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger, opts ...Option) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeMissingConfig, "archive bucket cannot be empty").
			WithComponent("archive")
	}

	loadOpts := []func(*awssdkconfig.LoadOptions) error{
		awssdkconfig.WithRegion(cfg.Region),
		awssdkconfig.WithRetryMaxAttempts(3),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awssdkconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awssdkconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidConfig, "failed to load AWS config").
			WithComponent("archive")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	a := New(client, cfg, logger, opts...)
	if cfg.UseCargoShip {
		a.transporter = cargoships3.NewTransporter(client, awsconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       cargoStorageClass(a.storageClass),
			MultipartThreshold: 32 * 1024 * 1024,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        4,
		})
		a.logger.Info("CargoShip transport enabled", "chunk_size", "16MB")
	}
	return a, nil
}

// New builds an archiver on an existing uploader.
func New(uploader Uploader, cfg config.ArchiveConfig, logger *slog.Logger, opts ...Option) *S3Archiver {
	a := &S3Archiver{
		uploader:     uploader,
		bucket:       cfg.Bucket,
		prefix:       strings.Trim(cfg.Prefix, "/"),
		storageClass: strings.ToUpper(cfg.StorageClass),
		batchSize:    cfg.BatchSize,
		retry:        retry.FromAttempts(3, 500*time.Millisecond),
		now:          time.Now,
	}
	if a.batchSize <= 0 {
		a.batchSize = 5000
	}
	if a.storageClass == "" {
		a.storageClass = string(s3types.StorageClassStandardIa)
	}
	for _, opt := range opts {
		opt(a)
	}
	// SDK errors carry no error code; uploads retry them regardless of policy.
	a.retry.RetryUnclassified = true
	a.logger = utils.OrDiscard(logger).With("component", "archive", "bucket", a.bucket)
	return a
}

// ObjectKey returns the key prefix for archives of p.
func (a *S3Archiver) ObjectKey(p types.PartitionMetadata, id string) string {
	return path.Join(a.prefix, p.Table, p.Name, id+".jsonl.zst")
}

// Archive reads every row of p and uploads them as one object. Any failure
// is reported as ARCHIVE_FAILED so the caller keeps the partition.
func (a *S3Archiver) Archive(ctx context.Context, p types.PartitionMetadata, policy types.RetentionPolicy, rows partition.BatchFunc) error {
	start := a.now()

	body, count, err := a.encode(ctx, rows)
	if err != nil {
		a.failures.Add(1)
		return errors.WrapError(err, errors.ErrCodeArchiveFailed, "failed to read partition "+p.Name).
			WithComponent("archive").WithOperation("read")
	}

	key := a.ObjectKey(p, uuid.NewString())
	metadata := map[string]string{
		"table":               p.Table,
		"partition":           p.Name,
		"range-start":         p.StartDate.UTC().Format(time.RFC3339),
		"range-end":           p.EndDate.UTC().Format(time.RFC3339),
		"rows":                strconv.Itoa(count),
		"retention-policy":    policy.Name,
		"data-classification": policy.DataClassification,
		"archived-at":         start.UTC().Format(time.RFC3339),
	}
	if policy.DeleteAfterDays > 0 {
		metadata["delete-after-days"] = strconv.Itoa(policy.DeleteAfterDays)
	}

	retryer := retry.New(a.retry).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		a.logger.Warn("archive upload failed, retrying",
			"partition", p.Name, "attempt", attempt, "delay", delay, "error", err)
	})
	err = retryer.DoWithContext(ctx, func(ctx context.Context) error {
		return a.upload(ctx, key, body, metadata)
	})
	if err != nil {
		a.failures.Add(1)
		return errors.WrapError(err, errors.ErrCodeArchiveFailed, "failed to upload "+key).
			WithComponent("archive").WithOperation("upload")
	}

	a.archives.Add(1)
	a.rows.Add(uint64(count))
	a.bytesUploaded.Add(uint64(len(body)))
	a.logger.Info("partition archived",
		"partition", p.Name,
		"key", key,
		"rows", count,
		"size", utils.FormatBytes(int64(len(body))),
		"duration", a.now().Sub(start))
	return nil
}

// encode pages through rows and writes them as compressed JSON Lines.
func (a *S3Archiver) encode(ctx context.Context, rows partition.BatchFunc) ([]byte, int, error) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	enc := json.NewEncoder(zw)

	count := 0
	for offset := 0; ; offset += a.batchSize {
		batch, err := rows(ctx, a.batchSize, offset)
		if err != nil {
			zw.Close()
			return nil, 0, err
		}
		for _, row := range batch {
			if err := enc.Encode(row); err != nil {
				zw.Close()
				return nil, 0, fmt.Errorf("failed to encode row %d: %w", count, err)
			}
			count++
		}
		if len(batch) < a.batchSize {
			break
		}
	}
	if err := zw.Close(); err != nil {
		return nil, 0, fmt.Errorf("failed to finish zstd stream: %w", err)
	}
	return buf.Bytes(), count, nil
}

// upload prefers the CargoShip transporter and falls back to PutObject.
func (a *S3Archiver) upload(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	if a.transporter != nil {
		result, err := a.transporter.Upload(ctx, cargoships3.Archive{
			Key:          key,
			Reader:       bytes.NewReader(body),
			Size:         int64(len(body)),
			StorageClass: cargoStorageClass(a.storageClass),
			Metadata:     metadata,
		})
		if err == nil {
			a.logger.Debug("CargoShip upload completed", "key", key, "throughput", result.Throughput)
			return nil
		}
		a.logger.Warn("CargoShip upload failed, falling back to PutObject", "key", key, "error", err)
	}

	_, err := a.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("zstd"),
		StorageClass:    s3types.StorageClass(a.storageClass),
		Metadata:        metadata,
	})
	return err
}

// HealthCheck verifies the bucket is reachable.
func (a *S3Archiver) HealthCheck(ctx context.Context) error {
	_, err := a.uploader.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeArchiveFailed, "archive bucket health check failed").
			WithComponent("archive")
	}
	return nil
}

// Stats returns archive counters.
func (a *S3Archiver) Stats() Stats {
	return Stats{
		Archives:      a.archives.Load(),
		Failures:      a.failures.Load(),
		Rows:          a.rows.Load(),
		BytesUploaded: a.bytesUploaded.Load(),
	}
}

func cargoStorageClass(class string) awsconfig.StorageClass {
	switch s3types.StorageClass(class) {
	case s3types.StorageClassStandardIa:
		return awsconfig.StorageClassStandardIA
	case s3types.StorageClassOnezoneIa:
		return awsconfig.StorageClassOneZoneIA
	case s3types.StorageClassIntelligentTiering:
		return awsconfig.StorageClassIntelligentTiering
	case s3types.StorageClassGlacier, s3types.StorageClassGlacierIr:
		return awsconfig.StorageClassGlacier
	case s3types.StorageClassDeepArchive:
		return awsconfig.StorageClassDeepArchive
	default:
		return awsconfig.StorageClassStandard
	}
}
