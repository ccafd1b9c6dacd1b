package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	cacheerrors "github.com/stratacache/stratacache/pkg/errors"
	"github.com/stratacache/stratacache/pkg/types"
)

// compatTemperatureDelta bounds how far a request's temperature may drift
// from the cached one and still reuse the result.
const compatTemperatureDelta = 0.1

// InferenceParameters are the sampling settings an inference ran with.
// Temperature is a pointer so "absent" is distinguishable from 0.0.
type InferenceParameters struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// InferenceRecord is one completed inference eligible for caching.
type InferenceRecord struct {
	Prompt     string              `json:"prompt"`
	PromptHash string              `json:"prompt_hash"`
	Model      string              `json:"model"`
	Parameters InferenceParameters `json:"parameters"`
	Result     string              `json:"result"`
	Tokens     int                 `json:"tokens"`
	Cost       float64             `json:"cost"`
	Confidence float64             `json:"confidence"`
}

func inferenceKey(model, promptHash string) string {
	return "inf:" + model + ":" + promptHash
}

// CacheInferenceResult stores an inference result if the admission policy
// passes: confidence above the threshold, and the run deterministic enough
// (temperature absent or low). A declined result returns an
// ADMISSION_REJECTED error, which is a policy outcome rather than a fault.
func (l *Layer) CacheInferenceResult(ctx context.Context, record InferenceRecord) error {
	if record.Prompt == "" || record.Model == "" {
		return cacheerrors.NewValidation("prompt and model are required").WithComponent("ai").WithOperation("cache-inference")
	}

	if record.Confidence <= l.cfg.MinConfidence {
		return cacheerrors.NewAdmissionRejected(fmt.Sprintf(
			"confidence %.2f at or below threshold %.2f", record.Confidence, l.cfg.MinConfidence))
	}
	if t := record.Parameters.Temperature; t != nil && *t >= l.cfg.MaxTemperature {
		return cacheerrors.NewAdmissionRejected(fmt.Sprintf(
			"temperature %.2f at or above threshold %.2f", *t, l.cfg.MaxTemperature))
	}

	record.PromptHash = textHash(record.Prompt)
	data, err := json.Marshal(record)
	if err != nil {
		return cacheerrors.Wrap(cacheerrors.ErrCodeInternalError, "failed to encode inference record", err)
	}

	ttl := l.inferenceTTL(record.Confidence, record.Cost)
	meta := types.EntryMetadata{
		Source: "ai-inference",
		Tags:   []string{"inference", record.Model},
	}
	return l.client.Set(ctx, inferenceKey(record.Model, record.PromptHash), data, ttl, meta)
}

// GetInferenceResult returns the cached result for (prompt, model) when the
// requested parameters are compatible with the stored ones. An incompatible
// parameter set is a miss even though the key matches.
func (l *Layer) GetInferenceResult(ctx context.Context, prompt, model string, params InferenceParameters) (*InferenceRecord, error) {
	start := time.Now()
	entry, err := l.client.Get(ctx, inferenceKey(model, textHash(prompt)))
	if err != nil {
		return nil, err
	}

	var result *InferenceRecord
	if entry != nil {
		var record InferenceRecord
		if err := json.Unmarshal(entry.Value, &record); err != nil {
			return nil, cacheerrors.Wrap(cacheerrors.ErrCodeInternalError, "failed to decode inference record", err)
		}
		if record.Model == model && temperaturesCompatible(record.Parameters.Temperature, params.Temperature) {
			result = &record
		}
	}
	l.workload.Record(WorkloadInference, result != nil, entrySize(entry), time.Since(start))
	return result, nil
}

// inferenceTTL keeps expensive, high-confidence results longer:
// base * confidence * min(cost/costUnit, cap).
func (l *Layer) inferenceTTL(confidence, cost float64) time.Duration {
	costFactor := cost / l.cfg.CostUnit
	if costFactor > l.cfg.CostCapMultiplier {
		costFactor = l.cfg.CostCapMultiplier
	}
	ttl := time.Duration(float64(l.cfg.InferenceBaseTTL) * confidence * costFactor)
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// temperaturesCompatible treats an absent temperature as 0.0 and requires
// the two values to be within compatTemperatureDelta.
func temperaturesCompatible(cached, requested *float64) bool {
	var a, b float64
	if cached != nil {
		a = *cached
	}
	if requested != nil {
		b = *requested
	}
	return math.Abs(a-b) < compatTemperatureDelta
}
