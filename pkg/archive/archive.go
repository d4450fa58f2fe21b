// Package archive uploads run outputs to S3-compatible object storage.
//
// Archiving is best-effort relative to the screen itself: a failed
// upload is reported but never invalidates results already on disk.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// Config selects the destination bucket and how to reach it.
type Config struct {
	// Bucket is required.
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Prefix is prepended to every uploaded key.
	Prefix string `mapstructure:"prefix" yaml:"prefix"`

	Region  string `mapstructure:"region" yaml:"region"`
	Profile string `mapstructure:"profile" yaml:"profile"`

	// Endpoint points at an S3-compatible store (MinIO, Ceph). Such
	// stores usually also need ForcePathStyle.
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`

	// Explicit credentials override the SDK default chain.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
}

// Validate checks required fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("archive: bucket is required")
	}
	return nil
}

// ParseDestination splits an s3://bucket/prefix URI into a Config.
func ParseDestination(uri string) (Config, error) {
	const scheme = "s3://"
	if !strings.HasPrefix(uri, scheme) {
		return Config{}, fmt.Errorf("archive: destination %q must start with s3://", uri)
	}
	rest := strings.TrimPrefix(uri, scheme)
	bucket, prefix, _ := strings.Cut(rest, "/")
	cfg := Config{Bucket: bucket, Prefix: strings.Trim(prefix, "/")}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// putObjectAPI is the slice of the S3 client the uploader needs.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies run outputs into one bucket/prefix.
type Uploader struct {
	client putObjectAPI
	bucket string
	prefix string
	log    *zap.Logger
}

// New builds an Uploader using the SDK default credential chain unless
// the config carries explicit credentials.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = cfg.ForcePathStyle
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &Uploader{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log,
	}, nil
}

// UploadFile puts one local file under the configured prefix.
func (u *Uploader) UploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	fullKey := u.key(key)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(fullKey),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("archive: put s3://%s/%s: %w", u.bucket, fullKey, classify(err))
	}
	u.log.Debug("archived file",
		zap.String("path", localPath),
		zap.String("key", fullKey))
	return nil
}

// UploadRun uploads the named run outputs from outDir, skipping files
// that do not exist. It keeps going past individual failures and
// returns the first error together with the count uploaded.
func (u *Uploader) UploadRun(ctx context.Context, outDir string, names []string) (int, error) {
	uploaded := 0
	var firstErr error
	for _, name := range names {
		local := filepath.Join(outDir, name)
		if _, err := os.Stat(local); err != nil {
			continue
		}
		if err := u.UploadFile(ctx, local, name); err != nil {
			u.log.Warn("archive upload failed", zap.String("file", name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		uploaded++
	}
	return uploaded, firstErr
}

func (u *Uploader) key(name string) string {
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

// classify surfaces the S3 error code when the SDK returns one.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return err
}
