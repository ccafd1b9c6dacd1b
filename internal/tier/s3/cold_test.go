package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cacheerrors "github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/types"
)

// fakeS3 is an in-memory stand-in for the object store.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, params *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[*params.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, params *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*params.Key] = body
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, params *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *params.Key)
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, params *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &awss3.ListObjectsV2Output{}
	truncated := false
	out.IsTruncated = &truncated
	for key := range f.objects {
		if params.Prefix != nil && !strings.HasPrefix(key, *params.Prefix) {
			continue
		}
		k := key
		out.Contents = append(out.Contents, s3types.Object{Key: &k})
	}
	return out, nil
}

func testColdTier(t *testing.T) (*ColdTier, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	tier := newColdTier(fake, Config{
		Bucket:     "test-bucket",
		KeyPrefix:  "stratacache",
		DefaultTTL: time.Hour,
		Timeout:    time.Second,
	}, zap.NewNop())
	return tier, fake
}

func TestColdSetGetRoundTrip(t *testing.T) {
	tier, _ := testColdTier(t)
	ctx := context.Background()

	// Repetitive payload so compression actually engages.
	value := bytes.Repeat([]byte("model-weights-"), 128)
	meta := types.EntryMetadata{Source: "s3-loader", Tags: []string{"model"}}

	require.NoError(t, tier.Set(ctx, "model:resnet:v1", value, time.Hour, meta))

	entry, err := tier.Get(ctx, "model:resnet:v1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, value, entry.Value)
	assert.Equal(t, []string{"model"}, entry.Metadata.Tags)
	assert.Equal(t, int64(len(value)), entry.Size)
}

func TestColdCompressionShrinksStoredObject(t *testing.T) {
	tier, fake := testColdTier(t)
	ctx := context.Background()

	value := bytes.Repeat([]byte("embedding-vector;"), 256)
	require.NoError(t, tier.Set(ctx, "emb:1", value, time.Hour, types.EntryMetadata{}))

	stored := fake.objects["stratacache/emb:1"]
	var env envelope
	require.NoError(t, json.Unmarshal(stored, &env))
	assert.True(t, env.Compressed)
	assert.Less(t, len(env.Payload), len(value))
}

func TestColdMissOnUnknownKey(t *testing.T) {
	tier, _ := testColdTier(t)

	entry, err := tier.Get(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, entry)
	assert.Equal(t, uint64(1), tier.Metrics().Misses)
}

func TestColdChecksumMismatchBecomesMiss(t *testing.T) {
	tier, fake := testColdTier(t)
	ctx := context.Background()

	require.NoError(t, tier.Set(ctx, "k", []byte("payload"), time.Hour, types.EntryMetadata{}))

	var env envelope
	require.NoError(t, json.Unmarshal(fake.objects["stratacache/k"], &env))
	env.Checksum = "0000"
	tampered, _ := json.Marshal(env)
	fake.objects["stratacache/k"] = tampered

	entry, err := tier.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, entry)

	// The corrupt object is removed, not left to fail forever.
	_, ok := fake.objects["stratacache/k"]
	assert.False(t, ok)
}

func TestColdExpiryOnRead(t *testing.T) {
	tier, fake := testColdTier(t)
	ctx := context.Background()

	require.NoError(t, tier.Set(ctx, "short", []byte("v"), time.Hour, types.EntryMetadata{}))

	var env envelope
	require.NoError(t, json.Unmarshal(fake.objects["stratacache/short"], &env))
	env.CreatedAt = time.Now().Add(-2 * time.Hour)
	aged, _ := json.Marshal(env)
	fake.objects["stratacache/short"] = aged

	entry, err := tier.Get(ctx, "short")
	assert.NoError(t, err)
	assert.Nil(t, entry)
	_, ok := fake.objects["stratacache/short"]
	assert.False(t, ok)
}

func TestColdInvalidateByPatternAndTags(t *testing.T) {
	tier, _ := testColdTier(t)
	ctx := context.Background()

	require.NoError(t, tier.Set(ctx, "model:a", []byte("1"), time.Hour, types.EntryMetadata{}))
	require.NoError(t, tier.Set(ctx, "model:b", []byte("2"), time.Hour, types.EntryMetadata{}))
	require.NoError(t, tier.Set(ctx, "emb:c", []byte("3"), time.Hour, types.EntryMetadata{Tags: []string{"stale"}}))

	n, err := tier.Invalidate(ctx, "model:*", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = tier.Invalidate(ctx, "", []string{"stale"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = tier.Invalidate(ctx, "[bad", nil)
	assert.True(t, cacheerrors.IsCode(err, cacheerrors.ErrCodeValidationFailed))
}

func TestColdCleanupRemovesExpired(t *testing.T) {
	tier, fake := testColdTier(t)
	ctx := context.Background()

	require.NoError(t, tier.Set(ctx, "live", []byte("1"), time.Hour, types.EntryMetadata{}))
	require.NoError(t, tier.Set(ctx, "dead", []byte("2"), time.Hour, types.EntryMetadata{}))

	var env envelope
	require.NoError(t, json.Unmarshal(fake.objects["stratacache/dead"], &env))
	env.CreatedAt = time.Now().Add(-2 * time.Hour)
	aged, _ := json.Marshal(env)
	fake.objects["stratacache/dead"] = aged

	n, err := tier.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := fake.objects["stratacache/live"]
	assert.True(t, ok)
}

func TestColdSetValidation(t *testing.T) {
	tier, _ := testColdTier(t)

	err := tier.Set(context.Background(), "", []byte("v"), time.Minute, types.EntryMetadata{})
	assert.True(t, cacheerrors.IsCode(err, cacheerrors.ErrCodeValidationFailed))

	err = tier.Set(context.Background(), "k", []byte("v"), -time.Minute, types.EntryMetadata{})
	assert.True(t, cacheerrors.IsCode(err, cacheerrors.ErrCodeValidationFailed))
}
