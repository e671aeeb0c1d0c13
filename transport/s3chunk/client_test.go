package s3chunk

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/chunk-uploader/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	pages   [][]string
	listed  []*s3.ListObjectsV2Input
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(params.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed = append(f.listed, params)

	page := len(f.listed) - 1
	output := &s3.ListObjectsV2Output{}
	if page < len(f.pages) {
		for _, key := range f.pages[page] {
			output.Contents = append(output.Contents, types.Object{Key: aws.String(key)})
		}
	}
	if page+1 < len(f.pages) {
		output.IsTruncated = aws.Bool(true)
		output.NextContinuationToken = aws.String("next")
	}
	return output, nil
}

func TestClient_Submit(t *testing.T) {
	api := newFakeS3()
	client, err := NewClientWithAPI(api, Config{Bucket: "bucket", Prefix: "/uploads/run-1/"}, log.NewLogger())
	require.NoError(t, err)

	require.NoError(t, client.Submit(context.Background(), 7, []byte("chunk seven")))

	assert.Equal(t, map[string][]byte{"uploads/run-1/00000007": []byte("chunk seven")}, api.objects)
}

func TestClient_ObjectKey(t *testing.T) {
	client, err := NewClientWithAPI(newFakeS3(), Config{Bucket: "bucket"}, log.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, "00000042", client.ObjectKey(42))
}

func TestClient_Submit_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantPermanent bool
	}{
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}, wantPermanent: true},
		{name: "missing bucket", err: &smithy.GenericAPIError{Code: "NoSuchBucket"}, wantPermanent: true},
		{name: "slow down", err: &smithy.GenericAPIError{Code: "SlowDown"}, wantPermanent: false},
		{name: "connection reset", err: errors.New("read: connection reset by peer"), wantPermanent: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeS3()
			api.putErr = tt.err
			client, err := NewClientWithAPI(api, Config{Bucket: "bucket"}, log.NewLogger())
			require.NoError(t, err)

			err = client.Submit(context.Background(), 1, []byte("x"))
			require.Error(t, err)
			assert.Equal(t, tt.wantPermanent, chunkuploader.IsPermanent(err))
		})
	}
}

func TestClient_ListChunks(t *testing.T) {
	api := newFakeS3()
	api.pages = [][]string{
		{"uploads/00000003", "uploads/00000000", "uploads/manifest.json"},
		{"uploads/nested/00000001", "uploads/00000002"},
	}
	client, err := NewClientWithAPI(api, Config{Bucket: "bucket", Prefix: "uploads"}, log.NewLogger())
	require.NoError(t, err)

	indices, err := client.ListChunks(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uint32{0, 2, 3}, indices)
	require.Len(t, api.listed, 2)
	assert.Equal(t, "uploads/", aws.ToString(api.listed[0].Prefix))
	assert.Equal(t, "next", aws.ToString(api.listed[1].ContinuationToken))
}

func TestNewClientWithAPI_RequiresBucket(t *testing.T) {
	_, err := NewClientWithAPI(newFakeS3(), Config{}, log.NewLogger())
	var configErr *chunkuploader.ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "s3_bucket", configErr.Field)
}

func TestPartSize(t *testing.T) {
	assert.Equal(t, int64(5*1024*1024), partSize(2_000_000))
	assert.Equal(t, int64(8*1024*1024+1), partSize(8*1024*1024))
}
