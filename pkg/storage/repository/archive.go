package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/scalebridge/pkg/storage"
)

// ArchiveConfig selects the S3 bucket for long-term reading archival.
type ArchiveConfig struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the S3 endpoint for MinIO-style deployments.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Prefix is prepended to every object key.
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// s3Client is the slice of the S3 API the archive uses.
type s3Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Archive writes readings as JSON objects to S3, keyed by classification
// and timestamp.
type Archive struct {
	name   string
	cfg    ArchiveConfig
	health healthState

	client s3Client
}

var _ storage.Repository = (*Archive)(nil)

// NewArchive creates the archive backend. The S3 client is built on Connect.
func NewArchive(name string, cfg ArchiveConfig) *Archive {
	return &Archive{name: name, cfg: cfg}
}

// NewArchiveWithClient creates an archive over an existing client, used by
// tests.
func NewArchiveWithClient(name string, cfg ArchiveConfig, client s3Client) *Archive {
	a := &Archive{name: name, cfg: cfg, client: client}
	a.health.setConnected(true)
	return a
}

func (a *Archive) Name() string { return a.name }

func (a *Archive) Connect(ctx context.Context) error {
	opts := []func(*awsconfig.LoadOptions) error{}
	if a.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(a.cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		a.health.record(0, err)
		return fmt.Errorf("load aws config: %w", err)
	}

	a.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if a.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(a.cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	a.health.setConnected(true)
	return nil
}

func (a *Archive) Disconnect(ctx context.Context) error {
	a.health.setConnected(false)
	a.client = nil
	return nil
}

func (a *Archive) TestConnectivity(ctx context.Context) error {
	if a.client == nil {
		return fmt.Errorf("archive backend %s not connected", a.name)
	}
	start := time.Now()
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.cfg.Bucket)})
	a.health.record(time.Since(start), err)
	return err
}

func (a *Archive) Health(ctx context.Context) storage.Health {
	return a.health.snapshot()
}

// objectKey lays archived readings out as
// [prefix/]readings/<classification>/<rfc3339nano>-<id>.json.
func (a *Archive) objectKey(r *storage.Reading) string {
	key := fmt.Sprintf("readings/%s/%s-%s.json",
		storage.Classify(r), r.Timestamp.UTC().Format(time.RFC3339Nano), r.ID)
	if a.cfg.Prefix != "" {
		key = a.cfg.Prefix + "/" + key
	}
	return key
}

func (a *Archive) Write(ctx context.Context, r *storage.Reading) error {
	if a.client == nil {
		return fmt.Errorf("archive backend %s not connected", a.name)
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}

	start := time.Now()
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(a.objectKey(r)),
		Body:        bytes.NewReader(doc),
		ContentType: aws.String("application/json"),
	})
	a.health.record(time.Since(start), err)
	if err != nil {
		return fmt.Errorf("archive reading: %w", err)
	}
	return nil
}

func (a *Archive) WriteBatch(ctx context.Context, rs []*storage.Reading) (int, error) {
	written := 0
	for _, r := range rs {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := a.Write(ctx, r); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}
