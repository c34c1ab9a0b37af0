package remote

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

// objectStub serves a single object for GetObject.
type objectStub struct {
	// bucket and key are what the stub expects to be asked for.
	bucket, key string
	// body is returned for the expected object.
	body []byte
}

func (o *objectStub) PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	return &s3.PutObjectOutput{}, nil
}

func (o *objectStub) GetObject(
	_ context.Context,
	in *s3.GetObjectInput,
	_ ...func(*s3.Options),
) (*s3.GetObjectOutput, error) {
	if aws.ToString(in.Bucket) != o.bucket || aws.ToString(in.Key) != o.key {
		return nil, io.ErrUnexpectedEOF
	}

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(o.body))}, nil
}

func (o *objectStub) DeleteObject(
	context.Context,
	*s3.DeleteObjectInput,
	...func(*s3.Options),
) (*s3.DeleteObjectOutput, error) {
	return &s3.DeleteObjectOutput{}, nil
}

// TestFetchBootctlHTTP verifies download and status handling over http.
func TestFetchBootctlHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bootctl" {
			http.NotFound(w, r)
			return
		}

		_, _ = w.Write([]byte("\x7fELF-bootctl"))
	}))
	t.Cleanup(srv.Close)

	body, err := NewFetcher(srv.URL+"/bootctl", WithHTTPClient(srv.Client())).FetchBootctl(context.Background())
	require.NoError(t, err)

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	require.Equal(t, "\x7fELF-bootctl", string(data))

	_, err = NewFetcher(srv.URL+"/missing", WithHTTPClient(srv.Client())).FetchBootctl(context.Background())
	require.ErrorIs(t, err, errBadHTTPStatus)
}

// TestFetchBootctlS3 checks bucket/key resolution for s3 locations.
func TestFetchBootctlS3(t *testing.T) {
	t.Parallel()

	api := &objectStub{bucket: "tools", key: "arm64/bootctl", body: []byte("bootctl")}

	body, err := NewFetcher("s3://tools/arm64/bootctl", WithObjectAPI(api)).FetchBootctl(context.Background())
	require.NoError(t, err)

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "bootctl", string(data))
}

// TestFetchBootctlNotConfigured ensures a missing url is reported.
func TestFetchBootctlNotConfigured(t *testing.T) {
	t.Parallel()

	_, err := NewFetcher("").FetchBootctl(context.Background())
	require.ErrorIs(t, err, errNoBootctlURL)
}
