package linkstore

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockS3Client is a mock implementation of S3API for testing
type mockS3Client struct {
	headObjectFunc   func(ctx context.Context, in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error)
	putObjectFunc    func(ctx context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error)
	deleteObjectFunc func(ctx context.Context, in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error)
}

func (m *mockS3Client) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if m.headObjectFunc != nil {
		return m.headObjectFunc(ctx, in)
	}
	return nil, fmt.Errorf("HeadObject not implemented")
}

func (m *mockS3Client) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putObjectFunc != nil {
		return m.putObjectFunc(ctx, in)
	}
	return nil, fmt.Errorf("PutObject not implemented")
}

func (m *mockS3Client) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if m.deleteObjectFunc != nil {
		return m.deleteObjectFunc(ctx, in)
	}
	return nil, fmt.Errorf("DeleteObject not implemented")
}

// memoryBucket backs the mock with a map
func memoryBucket() (*mockS3Client, map[string]string) {
	var mu sync.Mutex
	objects := map[string]string{}
	return &mockS3Client{
		headObjectFunc: func(_ context.Context, in *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			mu.Lock()
			defer mu.Unlock()
			if _, ok := objects[aws.ToString(in.Key)]; !ok {
				return nil, &types.NotFound{}
			}
			return &s3.HeadObjectOutput{}, nil
		},
		putObjectFunc: func(_ context.Context, in *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
			body, err := io.ReadAll(in.Body)
			if err != nil {
				return nil, err
			}
			mu.Lock()
			defer mu.Unlock()
			key := aws.ToString(in.Key)
			if _, ok := objects[key]; ok && aws.ToString(in.IfNoneMatch) == "*" {
				return nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}
			}
			objects[key] = string(body)
			return &s3.PutObjectOutput{}, nil
		},
		deleteObjectFunc: func(_ context.Context, in *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
			mu.Lock()
			defer mu.Unlock()
			delete(objects, aws.ToString(in.Key))
			return &s3.DeleteObjectOutput{}, nil
		},
	}, objects
}

func TestS3Store_LinkUnlink(t *testing.T) {
	client, objects := memoryBucket()
	base := filepath.Join(t.TempDir(), "extracted", "sha256")

	store, err := NewS3Store(client, "bucket", "links", base)
	require.NoError(t, err)
	ctx := context.Background()

	src := filepath.Join(filepath.Dir(base), "docs", "a.txt")
	created, err := store.Link(ctx, fpA, src)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, filepath.Join("..", "docs", "a.txt"), objects["links/"+string(fpA)])

	created, err = store.Link(ctx, fpA, src)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, store.Unlink(ctx, fpA))
	exists, err := store.Exists(ctx, fpA)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestS3Store_LostRaceIsDuplicate(t *testing.T) {
	client, _ := memoryBucket()
	// Head always misses, so only the conditional put can detect the duplicate.
	client.headObjectFunc = func(context.Context, *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
		return nil, &types.NotFound{}
	}

	store, err := NewS3Store(client, "bucket", "", t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	created, err := store.Link(ctx, fpB, "/x")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Link(ctx, fpB, "/y")
	require.NoError(t, err)
	assert.False(t, created)
}

func TestS3Store_HeadError(t *testing.T) {
	client := &mockS3Client{
		headObjectFunc: func(context.Context, *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "AccessDenied"}
		},
	}
	store, err := NewS3Store(client, "bucket", "p/", t.TempDir())
	require.NoError(t, err)

	_, err = store.Link(context.Background(), fpA, "/x")
	assert.Error(t, err)
}
