package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKVRoundTripAndRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := NewMemoryKV()

	value := []byte("status:online")
	require.NoError(t, kv.Set(ctx, "cam-1", value))
	value[0] = 'X'

	got, err := kv.Get(ctx, "cam-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("status:online"), got)

	require.NoError(t, kv.Remove(ctx, "cam-1"))
	require.NoError(t, kv.Remove(ctx, "cam-1"))

	_, err = kv.Get(ctx, "cam-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, kv.Len())
}

func TestMemoryKVHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewMemoryKV().Set(ctx, "k", []byte("v"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBoundedRejectsWritesPastCapacity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := NewBounded(NewMemoryKV(), 20)

	require.NoError(t, kv.Set(ctx, "a", make([]byte, 9)))
	require.NoError(t, kv.Set(ctx, "b", make([]byte, 9)))
	assert.Equal(t, int64(20), kv.Used())

	err := kv.Set(ctx, "c", []byte{1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Overwriting an existing key only charges the difference.
	require.NoError(t, kv.Set(ctx, "a", make([]byte, 5)))
	assert.Equal(t, int64(16), kv.Used())

	require.NoError(t, kv.Remove(ctx, "b"))
	assert.Equal(t, int64(6), kv.Used())
	require.NoError(t, kv.Set(ctx, "c", make([]byte, 10)))
}

func TestClassifyS3Error(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want error
	}{
		{name: "no such key", err: awserr.New(s3.ErrCodeNoSuchKey, "gone", nil), want: ErrNotFound},
		{name: "quota", err: awserr.New("QuotaExceeded", "bucket full", nil), want: ErrQuotaExceeded},
		{name: "too large", err: awserr.New("EntityTooLarge", "too big", nil), want: ErrQuotaExceeded},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyS3Error(tc.err), tc.want)
		})
	}

	other := awserr.New("AccessDenied", "nope", nil)
	got := classifyS3Error(other)
	assert.NotErrorIs(t, got, ErrQuotaExceeded)
	assert.NotErrorIs(t, got, ErrNotFound)

	plain := errors.New("dial tcp: refused")
	assert.Equal(t, plain, classifyS3Error(plain))
}

type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

type fakeUploader struct {
	store *fakeS3
	err   error
}

func (f *fakeUploader) Upload(in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return f.UploadWithContext(context.Background(), in, opts...)
}

func (f *fakeUploader) UploadWithContext(_ aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.store.objects[aws.StringValue(in.Key)] = body
	return &s3manager.UploadOutput{}, nil
}

func newFakeS3KV() (*S3KV, *fakeS3, *fakeUploader) {
	store := &fakeS3{objects: make(map[string][]byte)}
	uploader := &fakeUploader{store: store}
	return &S3KV{
		client:   store,
		uploader: uploader,
		bucket:   "snapshots",
		prefix:   "dash",
		log:      logrus.New().WithField("component", "s3_kv"),
	}, store, uploader
}

func TestS3KVRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv, store, _ := newFakeS3KV()

	require.NoError(t, kv.Set(ctx, "cam-7", []byte("frame")))
	assert.Contains(t, store.objects, "dash/cam-7")

	got, err := kv.Get(ctx, "cam-7")
	require.NoError(t, err)
	assert.Equal(t, []byte("frame"), got)

	require.NoError(t, kv.Remove(ctx, "cam-7"))
	_, err = kv.Get(ctx, "cam-7")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3KVMapsQuotaOnUpload(t *testing.T) {
	t.Parallel()

	kv, _, uploader := newFakeS3KV()
	uploader.err = awserr.New("QuotaExceeded", "bucket quota reached", nil)

	err := kv.Set(context.Background(), "cam-7", []byte("frame"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}
