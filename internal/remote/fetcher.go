package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oshokin/boot-installer/internal/logger"
	"github.com/oshokin/boot-installer/internal/storage"
)

var (
	errBadHTTPStatus = errors.New("unexpected http status")
	errNoBootctlURL  = errors.New("bootctl url is not configured")
)

// Service fetches the auxiliary blobs the installer needs from the network.
type Service interface {
	FetchBootctl(ctx context.Context) (io.ReadCloser, error)
}

// Fetcher downloads blobs over http(s) or from S3.
type Fetcher struct {
	// bootctlURL locates the bootctl helper.
	bootctlURL string
	// client serves http(s) locations.
	client *http.Client
	// objects serves s3:// locations; built lazily when nil.
	objects storage.ObjectAPI
	// region is used when the S3 client is built lazily.
	region string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithObjectAPI sets the S3 client used for s3:// locations.
func WithObjectAPI(api storage.ObjectAPI) Option {
	return func(f *Fetcher) {
		f.objects = api
	}
}

// WithRegion sets the region of the lazily built S3 client.
func WithRegion(region string) Option {
	return func(f *Fetcher) {
		f.region = region
	}
}

// NewFetcher returns a Fetcher reading bootctl from bootctlURL.
func NewFetcher(bootctlURL string, opts ...Option) *Fetcher {
	f := &Fetcher{
		bootctlURL: bootctlURL,
		client:     http.DefaultClient,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// FetchBootctl opens the bootctl helper binary.
func (f *Fetcher) FetchBootctl(ctx context.Context) (io.ReadCloser, error) {
	if f.bootctlURL == "" {
		return nil, errNoBootctlURL
	}

	logger.DebugKV(ctx, "Fetching bootctl", "url", f.bootctlURL)

	if strings.HasPrefix(f.bootctlURL, "s3://") {
		return f.fetchObject(ctx, f.bootctlURL)
	}

	return f.fetchHTTP(ctx, f.bootctlURL)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}

	response, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusOK {
		_ = response.Body.Close()

		return nil, fmt.Errorf("%s, %s: %w", url, response.Status, errBadHTTPStatus)
	}

	return response.Body, nil
}

func (f *Fetcher) fetchObject(ctx context.Context, url string) (io.ReadCloser, error) {
	bucket, key, err := storage.ParseS3URL(url)
	if err != nil {
		return nil, err
	}

	if f.objects == nil {
		api, err := storage.NewS3API(ctx, f.region)
		if err != nil {
			return nil, err
		}

		f.objects = api
	}

	out, err := f.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}

	return out.Body, nil
}
