package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// fakeObjects is an in-memory ObjectAPI.
type fakeObjects struct {
	mu sync.Mutex
	// objects maps bucket/key to the stored bytes.
	objects map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) PutObject(
	_ context.Context,
	in *s3.PutObjectInput,
	_ ...func(*s3.Options),
) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.mu.Unlock()

	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(
	_ context.Context,
	in *s3.GetObjectInput,
	_ ...func(*s3.Options),
) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeObjects) DeleteObject(
	_ context.Context,
	in *s3.DeleteObjectInput,
	_ ...func(*s3.Options),
) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	f.mu.Unlock()

	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeObjects) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[key]

	return data, ok
}

// TestLocalDir verifies write, location and delete for local outputs.
func TestLocalDir(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fs := afero.NewMemMapFs()
	dest := NewLocalDir(fs, "/sdcard/Download")

	a, err := dest.Create(ctx, "magisk_patched-27000_abcde.img")
	require.NoError(t, err)
	require.Equal(t, "/sdcard/Download/magisk_patched-27000_abcde.img", a.Location())

	_, err = io.WriteString(a, "patched")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	data, err := afero.ReadFile(fs, a.Location())
	require.NoError(t, err)
	require.Equal(t, "patched", string(data))

	require.NoError(t, a.Delete(ctx))

	ok, err := afero.Exists(fs, a.Location())
	require.NoError(t, err)
	require.False(t, ok)

	_, err = dest.Create(ctx, "../escape.img")
	require.ErrorIs(t, err, errInvalidName)
}

// TestS3UploadAndDelete checks that objects appear on Close and vanish on Delete.
func TestS3UploadAndDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	api := newFakeObjects()
	fs := afero.NewMemMapFs()
	dest := NewS3(api, "images", "patched", WithStaging(fs, "/cache"))

	a, err := dest.Create(ctx, "out.tar")
	require.NoError(t, err)
	require.Equal(t, "s3://images/patched/out.tar", a.Location())

	_, err = io.WriteString(a, "tarball")
	require.NoError(t, err)

	_, ok := api.get("images/patched/out.tar")
	require.False(t, ok)

	require.NoError(t, a.Close())

	data, ok := api.get("images/patched/out.tar")
	require.True(t, ok)
	require.Equal(t, "tarball", string(data))

	staged, err := afero.ReadDir(fs, "/cache")
	require.NoError(t, err)
	require.Empty(t, staged)

	require.NoError(t, a.Delete(ctx))

	_, ok = api.get("images/patched/out.tar")
	require.False(t, ok)
}

// TestS3DeleteBeforeClose ensures an abandoned artifact never reaches the bucket.
func TestS3DeleteBeforeClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	api := newFakeObjects()
	fs := afero.NewMemMapFs()
	dest := NewS3(api, "images", "", WithStaging(fs, "/cache"))

	a, err := dest.Create(ctx, "out.img")
	require.NoError(t, err)

	_, err = io.WriteString(a, "half")
	require.NoError(t, err)
	require.NoError(t, a.Delete(ctx))
	require.NoError(t, a.Close())

	_, ok := api.get("images/out.img")
	require.False(t, ok)

	staged, err := afero.ReadDir(fs, "/cache")
	require.NoError(t, err)
	require.Empty(t, staged)
}

// TestParseS3URL checks bucket and key extraction.
func TestParseS3URL(t *testing.T) {
	t.Parallel()

	bucket, key, err := ParseS3URL("s3://firmware/tools/bootctl")
	require.NoError(t, err)
	require.Equal(t, "firmware", bucket)
	require.Equal(t, "tools/bootctl", key)

	_, _, err = ParseS3URL("https://firmware/tools")
	require.Error(t, err)
}
