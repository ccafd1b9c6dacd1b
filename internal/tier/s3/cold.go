// Package s3 implements the cold tier on S3-compatible object storage.
// Payloads are gzip-compressed and checksummed, so a restart (or another
// node) can trust whatever it reads back.
package s3

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"io"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	cacheerrors "github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/types"
)

// Config holds bucket and behavior settings for the cold tier.
type Config struct {
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKey       string        `yaml:"access_key"`
	SecretKey       string        `yaml:"secret_key"`
	KeyPrefix       string        `yaml:"key_prefix"`
	DefaultTTL      time.Duration `yaml:"ttl"`
	Timeout         time.Duration `yaml:"timeout"`
	DisableCompress bool          `yaml:"disable_compression"`
}

// api is the slice of the S3 client the tier needs. Tests substitute a fake.
type api interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// envelope is the stored object body: compressed payload plus everything
// needed to validate and expire it without extra round trips.
type envelope struct {
	Payload    []byte              `json:"payload"`
	Checksum   string              `json:"checksum"`
	Compressed bool                `json:"compressed"`
	Metadata   types.EntryMetadata `json:"metadata"`
	CreatedAt  time.Time           `json:"created_at"`
	TTL        time.Duration       `json:"ttl"`
}

// ColdTier is the object-storage-backed bottom tier.
type ColdTier struct {
	client api
	config Config
	logger *zap.Logger

	hits      uint64
	misses    uint64
	evictions uint64
	errs      uint64
	size      int64
}

// NewColdTier builds the tier against real S3 (or any S3-compatible endpoint).
func NewColdTier(ctx context.Context, config Config, logger *zap.Logger) (*ColdTier, error) {
	if config.Bucket == "" {
		return nil, cacheerrors.New(cacheerrors.ErrCodeInvalidConfig, "cold tier bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(config.Region))
	}
	if config.AccessKey != "" && config.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.ErrCodeConnectionFailed, "failed to load aws config", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newColdTier(client, config, logger), nil
}

func newColdTier(client api, config Config, logger *zap.Logger) *ColdTier {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "stratacache"
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 24 * time.Hour
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ColdTier{client: client, config: config, logger: logger}
}

// Name implements types.Tier.
func (c *ColdTier) Name() types.TierName {
	return types.TierCold
}

// Get fetches, verifies and decompresses the object for key. Expired or
// corrupt objects are deleted and treated as misses.
func (c *ColdTier) Get(ctx context.Context, key string) (*types.CacheEntry, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	out, err := c.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(c.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			atomic.AddUint64(&c.misses, 1)
			return nil, nil
		}
		atomic.AddUint64(&c.errs, 1)
		return nil, c.mapError("get", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		atomic.AddUint64(&c.errs, 1)
		return nil, c.mapError("get", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.discardCorrupt(ctx, key, "undecodable envelope")
		atomic.AddUint64(&c.misses, 1)
		return nil, nil
	}

	if env.Expired(time.Now()) {
		c.deleteObject(ctx, key)
		atomic.AddUint64(&c.misses, 1)
		return nil, nil
	}

	value := env.Payload
	if env.Compressed {
		value, err = gunzip(env.Payload)
		if err != nil {
			c.discardCorrupt(ctx, key, "decompression failed")
			atomic.AddUint64(&c.misses, 1)
			return nil, nil
		}
	}
	if checksum(value) != env.Checksum {
		c.discardCorrupt(ctx, key, "checksum mismatch")
		atomic.AddUint64(&c.misses, 1)
		return nil, nil
	}

	atomic.AddUint64(&c.hits, 1)
	return &types.CacheEntry{
		Key:          key,
		Value:        value,
		CreatedAt:    env.CreatedAt,
		LastAccessed: time.Now(),
		Size:         int64(len(value)),
		TTL:          env.TTL,
		Metadata:     env.Metadata,
	}, nil
}

// Set compresses and stores value under key.
func (c *ColdTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration, meta types.EntryMetadata) error {
	if key == "" {
		return cacheerrors.NewValidation("empty cache key").WithComponent("cold").WithOperation("set")
	}
	if ttl < 0 {
		return cacheerrors.NewValidation("negative ttl").WithComponent("cold").WithOperation("set")
	}
	if ttl == 0 {
		ttl = c.config.DefaultTTL
	}

	env := envelope{
		Payload:   value,
		Checksum:  checksum(value),
		Metadata:  meta,
		CreatedAt: time.Now(),
		TTL:       ttl,
	}
	if !c.config.DisableCompress {
		compressed, err := gzipBytes(value)
		if err == nil && len(compressed) < len(value) {
			env.Payload = compressed
			env.Compressed = true
		}
	}

	body, err := json.Marshal(env)
	if err != nil {
		return cacheerrors.Wrap(cacheerrors.ErrCodeInternalError, "failed to encode cold entry", err)
	}

	ctx, cancel := c.callContext(ctx)
	defer cancel()

	_, err = c.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(c.config.Bucket),
		Key:         aws.String(c.objectKey(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"checksum": env.Checksum,
		},
	})
	if err != nil {
		atomic.AddUint64(&c.errs, 1)
		return c.mapError("set", err)
	}
	atomic.AddInt64(&c.size, int64(len(body)))
	return nil
}

// Delete removes the object for key.
func (c *ColdTier) Delete(ctx context.Context, key string) error {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	return c.deleteObject(ctx, key)
}

// Invalidate lists the tier's prefix and removes objects whose logical key
// matches the glob pattern or whose tags intersect the given set.
func (c *ColdTier) Invalidate(ctx context.Context, pattern string, tags []string) (int, error) {
	if pattern == "" && len(tags) == 0 {
		return 0, nil
	}
	if pattern != "" {
		if _, err := path.Match(pattern, "probe"); err != nil {
			return 0, cacheerrors.NewValidation("malformed invalidation pattern: " + pattern).
				WithComponent("cold").WithOperation("invalidate")
		}
	}

	removed := 0
	err := c.forEachObject(ctx, func(logical string) error {
		match := false
		if pattern != "" {
			if ok, _ := path.Match(pattern, logical); ok {
				match = true
			}
		}
		if !match && len(tags) > 0 {
			entry, err := c.Get(ctx, logical)
			if err == nil && entry != nil && entry.Metadata.HasAnyTag(tags) {
				match = true
			}
		}
		if match {
			if err := c.deleteObject(ctx, logical); err == nil {
				removed++
			}
		}
		return nil
	})
	atomic.AddUint64(&c.evictions, uint64(removed))
	return removed, err
}

// Cleanup removes objects whose embedded TTL has elapsed.
func (c *ColdTier) Cleanup(ctx context.Context) (int, error) {
	removed := 0
	now := time.Now()
	err := c.forEachObject(ctx, func(logical string) error {
		env, err := c.readEnvelope(ctx, logical)
		if err != nil || env == nil {
			return nil
		}
		if env.Expired(now) {
			if err := c.deleteObject(ctx, logical); err == nil {
				removed++
			}
		}
		return nil
	})
	atomic.AddUint64(&c.evictions, uint64(removed))
	return removed, err
}

func (c *ColdTier) readEnvelope(ctx context.Context, key string) (*envelope, error) {
	getCtx, cancel := c.callContext(ctx)
	defer cancel()

	out, err := c.client.GetObject(getCtx, &awss3.GetObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(c.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, c.mapError("get", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, c.mapError("get", err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Metrics returns the tier's statistics.
func (c *ColdTier) Metrics() types.LayerMetrics {
	m := types.LayerMetrics{
		Hits:      atomic.LoadUint64(&c.hits),
		Misses:    atomic.LoadUint64(&c.misses),
		Evictions: atomic.LoadUint64(&c.evictions),
		Errors:    atomic.LoadUint64(&c.errs),
		Size:      atomic.LoadInt64(&c.size),
	}
	if total := m.Hits + m.Misses; total > 0 {
		m.HitRate = float64(m.Hits) / float64(total)
	}
	return m
}

// Expired reports whether the envelope's TTL has elapsed. A zero TTL never
// expires.
func (e *envelope) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.CreatedAt.Add(e.TTL))
}

func (c *ColdTier) forEachObject(ctx context.Context, fn func(logical string) error) error {
	prefix := c.config.KeyPrefix + "/"
	var token *string
	for {
		listCtx, cancel := c.callContext(ctx)
		out, err := c.client.ListObjectsV2(listCtx, &awss3.ListObjectsV2Input{
			Bucket:            aws.String(c.config.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		cancel()
		if err != nil {
			atomic.AddUint64(&c.errs, 1)
			return c.mapError("list", err)
		}

		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			if err := fn(strings.TrimPrefix(*obj.Key, prefix)); err != nil {
				return err
			}
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return nil
		}
		token = out.NextContinuationToken
	}
}

func (c *ColdTier) deleteObject(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(c.objectKey(key)),
	})
	if err != nil {
		atomic.AddUint64(&c.errs, 1)
		return c.mapError("delete", err)
	}
	return nil
}

func (c *ColdTier) discardCorrupt(ctx context.Context, key, reason string) {
	c.logger.Warn("discarding corrupt cold entry",
		zap.String("key", key),
		zap.String("reason", reason))
	_ = c.deleteObject(ctx, key)
}

func (c *ColdTier) objectKey(key string) string {
	return c.config.KeyPrefix + "/" + key
}

func (c *ColdTier) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.config.Timeout)
}

func (c *ColdTier) mapError(op string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return cacheerrors.Wrap(cacheerrors.ErrCodeConnectionTimeout, "cold tier call timed out", err).
			WithComponent("cold").WithOperation(op)
	}
	return cacheerrors.NewTierUnavailable("cold", op, err)
}

func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	if stderrors.As(err, &noKey) {
		return true
	}
	var notFound *s3types.NotFound
	return stderrors.As(err, &notFound)
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
