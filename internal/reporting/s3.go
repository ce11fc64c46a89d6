package reporting

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/modules/backtest"
)

// S3Config addresses an S3-compatible bucket. Endpoint is empty for AWS and
// set for R2 or MinIO.
type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// uploader is the part of manager.Uploader the exporter uses.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Exporter uploads reports to <bucket>/<prefix>/<run id>/.
type S3Exporter struct {
	uploader uploader
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// NewS3Exporter builds an S3 client from static credentials.
func NewS3Exporter(ctx context.Context, cfg S3Config, log zerolog.Logger) (*S3Exporter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Exporter(manager.NewUploader(client), cfg, log), nil
}

func newS3Exporter(u uploader, cfg S3Config, log zerolog.Logger) *S3Exporter {
	return &S3Exporter{
		uploader: u,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		log:      log.With().Str("component", "s3_exporter").Logger(),
	}
}

// Export implements Exporter.
func (e *S3Exporter) Export(ctx context.Context, run *backtest.Run) ([]string, error) {
	files, err := Render(run)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var locations []string
	for _, name := range names {
		key := path.Join(e.prefix, run.ID, name)
		_, err := e.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(e.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(files[name]),
			ContentType: aws.String(contentType(name)),
		})
		if err != nil {
			return locations, fmt.Errorf("failed to upload %s: %w", key, err)
		}
		locations = append(locations, "s3://"+e.bucket+"/"+key)
	}

	e.log.Info().Str("run_id", run.ID).Str("bucket", e.bucket).Int("objects", len(locations)).Msg("Report uploaded")
	return locations, nil
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}
