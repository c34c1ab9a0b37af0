package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/oshokin/boot-installer/internal/logger"
)

// ObjectAPI is the part of the S3 client the installer uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(
		ctx context.Context,
		in *s3.DeleteObjectInput,
		opts ...func(*s3.Options),
	) (*s3.DeleteObjectOutput, error)
}

// NewS3API builds an S3 client from the default AWS credential chain.
func NewS3API(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg), nil
}

// S3 stages artifacts in a local temp file and uploads them on Close.
type S3 struct {
	api    ObjectAPI
	bucket string
	prefix string

	// fs and tmpDir hold the staging file.
	fs     afero.Fs
	tmpDir string
}

// S3Option configures an S3 destination.
type S3Option func(*S3)

// WithStaging sets where artifacts are staged before upload.
func WithStaging(fs afero.Fs, dir string) S3Option {
	return func(d *S3) {
		d.fs = fs
		d.tmpDir = dir
	}
}

// NewS3 returns a destination uploading to bucket under prefix.
func NewS3(api ObjectAPI, bucket, prefix string, opts ...S3Option) *S3 {
	d := &S3{
		api:    api,
		bucket: bucket,
		prefix: prefix,
		fs:     afero.NewOsFs(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Create starts a staged upload of name.
func (d *S3) Create(_ context.Context, name string) (Artifact, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	if d.tmpDir != "" {
		if err := d.fs.MkdirAll(d.tmpDir, 0o755); err != nil {
			return nil, fmt.Errorf("create staging dir: %w", err)
		}
	}

	f, err := afero.TempFile(d.fs, d.tmpDir, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}

	return &s3Artifact{
		dest: d,
		key:  path.Join(d.prefix, name),
		file: f,
	}, nil
}

type s3Artifact struct {
	dest     *S3
	key      string
	file     afero.File
	closed   bool
	uploaded bool
}

func (a *s3Artifact) Write(p []byte) (int, error) {
	return a.file.Write(p)
}

// Close uploads the staged bytes. The object only appears once Close succeeds.
func (a *s3Artifact) Close() error {
	if a.closed {
		return nil
	}

	a.closed = true

	defer a.removeStaging()

	size, err := a.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("stage %s: %w", a.key, err)
	}

	if _, err = a.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("stage %s: %w", a.key, err)
	}

	// A context is not threaded through io.Closer; uploads are bounded by the SDK's own timeouts.
	ctx := context.Background()

	_, err = a.dest.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.dest.bucket),
		Key:           aws.String(a.key),
		Body:          a.file,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", a.key, err)
	}

	a.uploaded = true

	logger.InfoKV(ctx, "Uploaded artifact", "location", a.Location(), "size", humanize.IBytes(uint64(size)))

	return nil
}

func (a *s3Artifact) Delete(ctx context.Context) error {
	if !a.closed {
		a.closed = true
		a.removeStaging()

		return nil
	}

	if !a.uploaded {
		return nil
	}

	_, err := a.dest.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.dest.bucket),
		Key:    aws.String(a.key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", a.key, err)
	}

	return nil
}

func (a *s3Artifact) Location() string {
	return "s3://" + a.dest.bucket + "/" + a.key
}

func (a *s3Artifact) removeStaging() {
	name := a.file.Name()

	//nolint:errcheck // Staging file is discarded either way.
	a.file.Close()

	if err := a.dest.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf(context.Background(), "Unable to remove staging file %s: %v", name, err)
	}
}
