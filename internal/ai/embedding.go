package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	cacheerrors "github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/types"
)

// EmbeddingRecord is the stored form of one embedding. Entries are
// immutable: a second cache call for the same (text, model) pair is a no-op.
type EmbeddingRecord struct {
	TextHash   string    `json:"text_hash"`
	Vector     []float32 `json:"vector"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	BatchID    string    `json:"batch_id,omitempty"`
}

// EmbeddingOptions tunes one caching call.
type EmbeddingOptions struct {
	// Compress truncates the vector to floor(len * CompressionRatio)
	// dimensions before storage.
	Compress bool
	// BatchID groups entries cached in one batch; batch methods fill it in.
	BatchID string
}

func embeddingKey(model, textHash string) string {
	return "emb:" + model + ":" + textHash
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CacheEmbedding stores the embedding for (text, model). The key is derived
// from a content hash of the text, so identical texts share an entry.
func (l *Layer) CacheEmbedding(ctx context.Context, text string, vector []float32, model string, opts EmbeddingOptions) error {
	if text == "" || model == "" {
		return cacheerrors.NewValidation("text and model are required").WithComponent("ai").WithOperation("cache-embedding")
	}
	if len(vector) == 0 {
		return cacheerrors.NewValidation("empty embedding vector").WithComponent("ai").WithOperation("cache-embedding")
	}

	hash := textHash(text)
	key := embeddingKey(model, hash)

	// Embeddings are immutable: keep the first stored vector.
	existing, err := l.client.Get(ctx, key)
	if err == nil && existing != nil {
		return nil
	}

	stored := vector
	if opts.Compress {
		target := int(float64(len(vector)) * l.cfg.CompressionRatio)
		if target < 1 {
			target = 1
		}
		stored = vector[:target]
	}

	record := EmbeddingRecord{
		TextHash:   hash,
		Vector:     stored,
		Model:      model,
		Dimensions: len(stored),
		BatchID:    opts.BatchID,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return cacheerrors.Wrap(cacheerrors.ErrCodeInternalError, "failed to encode embedding", err)
	}

	meta := types.EntryMetadata{
		Source: "ai-embedding",
		Tags:   []string{"embedding", model},
	}
	return l.client.Set(ctx, key, data, l.cfg.EmbeddingTTL, meta)
}

// CacheEmbeddingBatch stores one batch of (text, vector) pairs under a
// shared batch id and returns that id.
func (l *Layer) CacheEmbeddingBatch(ctx context.Context, texts []string, vectors [][]float32, model string, opts EmbeddingOptions) (string, error) {
	if len(texts) != len(vectors) {
		return "", cacheerrors.NewValidation("texts and vectors length mismatch").WithComponent("ai").WithOperation("cache-embedding-batch")
	}
	batchID := uuid.NewString()
	opts.BatchID = batchID

	for i, text := range texts {
		if err := l.CacheEmbedding(ctx, text, vectors[i], model, opts); err != nil {
			l.logger.Warn("batch embedding store failed",
				zap.String("batch_id", batchID),
				zap.Int("index", i),
				zap.Error(err))
			return batchID, err
		}
	}
	return batchID, nil
}

// GetEmbedding returns the cached vector for an exact (text, model) match,
// or nil on a miss.
func (l *Layer) GetEmbedding(ctx context.Context, text, model string) (*EmbeddingRecord, error) {
	start := time.Now()
	entry, err := l.client.Get(ctx, embeddingKey(model, textHash(text)))
	if err != nil {
		return nil, err
	}
	l.workload.Record(WorkloadEmbedding, entry != nil, entrySize(entry), time.Since(start))
	if entry == nil {
		return nil, nil
	}

	var record EmbeddingRecord
	if err := json.Unmarshal(entry.Value, &record); err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.ErrCodeInternalError, "failed to decode embedding", err)
	}
	return &record, nil
}
