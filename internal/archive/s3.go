// Package archive stores copies of accepted upload payloads in S3-compatible
// object storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Config describes the archive bucket. Static credentials are optional; the
// default AWS credential chain is used without them.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// partSize is the multipart threshold; smaller payloads go up in one PUT.
const partSize = 5 << 20

type objectUploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver writes payloads to <prefix>/<provenance>/<hash>.csv.
type S3Archiver struct {
	client objectUploader
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Archiver builds an S3 client from cfg.
func NewS3Archiver(ctx context.Context, cfg Config, logger zerolog.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: failed to load config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	uploader := manager.NewUploader(s3.NewFromConfig(awsCfg, clientOpts...), func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = 2
	})
	return newS3Archiver(uploader, cfg.Bucket, cfg.Prefix, logger), nil
}

func newS3Archiver(client objectUploader, bucket, prefix string, logger zerolog.Logger) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With().Str("component", "payload_archive").Logger(),
	}
}

// Archive stores payload under its provenance and hash. Identical payloads map
// to the same key.
func (a *S3Archiver) Archive(ctx context.Context, provenance, payloadHash string, payload []byte) error {
	key := ObjectKey(a.prefix, provenance, payloadHash)
	out, err := a.client.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("text/csv"),
		Metadata: map[string]string{
			"provenance":   provenance,
			"payload-hash": payloadHash,
		},
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	a.logger.Debug().Str("key", key).Str("location", out.Location).Msg("payload archived")
	return nil
}

// ObjectKey returns the object key for a payload.
func ObjectKey(prefix, provenance, payloadHash string) string {
	return path.Join(prefix, safeSegment(provenance), payloadHash+".csv")
}

func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
