package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/havenloop/attune/ai/vectorstore"
	"github.com/havenloop/attune/store"
)

const (
	// DefaultTopK limits how many trigger hits each vector search returns.
	DefaultTopK = 20
	// DefaultSimilarityThreshold drops hits whose cosine similarity is too
	// weak to signal a real trigger match.
	DefaultSimilarityThreshold = 0.3
	// ContinuityBonus is the flat score bump applied to the behavior the
	// conversation is already in, after weighting and priority.
	ContinuityBonus = 0.15

	slowMultiSearchThreshold = 100 * time.Millisecond
)

// BehaviorHit accumulates everything the searches learned about one behavior:
// the best similarity per vector type plus the trigger metadata used later for
// priority adjustment.
type BehaviorHit struct {
	BehaviorID string
	// Scores holds the highest similarity observed per vector type. A type
	// that produced no hit for this behavior is simply absent and scores 0.
	Scores   map[VectorType]float32
	Metadata map[string]any
}

// MultiVectorResult is the outcome of searching every available fingerprint.
type MultiVectorResult struct {
	// Hits preserves first-encounter order across the fixed vector-type
	// iteration, which is what makes downstream tie-breaking stable.
	Hits            []*BehaviorHit
	SearchLatencyMs int64
}

// Service fans each turn's embeddings out to the trigger store and fuses the
// results into a weighted candidate ranking.
type Service struct {
	vectors *vectorstore.Service
	state   *store.Store

	mu        sync.RWMutex
	weights   map[VectorType]float32
	topK      int
	threshold float32
}

// Config carries the search service dependencies and tuning knobs.
type Config struct {
	Vectors             *vectorstore.Service
	State               *store.Store
	TopK                int     // default: DefaultTopK
	SimilarityThreshold float32 // default: DefaultSimilarityThreshold
}

// NewService creates the multi-vector search service.
func NewService(cfg Config) *Service {
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	threshold := cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &Service{
		vectors:   cfg.Vectors,
		state:     cfg.State,
		weights:   DefaultWeights(),
		topK:      topK,
		threshold: threshold,
	}
}

// SetVectorWeights merges the given weights over the current ones. Types not
// present keep their existing weight, so callers can tune a single signal
// without restating the whole table.
func (s *Service) SetVectorWeights(weights map[VectorType]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for vt, w := range weights {
		s.weights[vt] = w
	}
}

// VectorWeights returns a copy of the active weight table.
func (s *Service) VectorWeights() map[VectorType]float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[VectorType]float32, len(s.weights))
	for vt, w := range s.weights {
		out[vt] = w
	}
	return out
}

// SearchMultiVector runs one trigger-store search per provided embedding and
// groups the hits by behavior. Types missing from the input are skipped, not
// treated as errors: a turn with no tool call simply contributes no tool_call
// scores. A failed search for one type is logged and skipped so the remaining
// signals still produce a ranking, but when every attempted search fails the
// store is unreachable and the call returns an error instead of an empty
// result.
func (s *Service) SearchMultiVector(ctx context.Context, embeddings map[VectorType][]float32) (*MultiVectorResult, error) {
	start := time.Now()

	s.mu.RLock()
	topK := s.topK
	threshold := s.threshold
	s.mu.RUnlock()

	result := &MultiVectorResult{}
	index := make(map[string]*BehaviorHit)

	var succeeded, failed int
	var lastErr error

	for _, vt := range vectorTypeOrder {
		vector, ok := embeddings[vt]
		if !ok || len(vector) == 0 {
			continue
		}

		hits, err := s.vectors.SearchSimilar(ctx, vector, topK)
		if err != nil {
			slog.Warn("vector search failed for one signal, continuing with the rest",
				"vector_type", vt,
				"error", err)
			failed++
			lastErr = err
			continue
		}
		succeeded++

		for _, hit := range hits {
			if hit.Similarity < threshold {
				continue
			}
			behaviorID := hit.BehaviorID
			if behaviorID == "" {
				continue
			}
			entry, seen := index[behaviorID]
			if !seen {
				entry = &BehaviorHit{
					BehaviorID: behaviorID,
					Scores:     make(map[VectorType]float32, len(vectorTypeOrder)),
					Metadata:   hit.Metadata,
				}
				index[behaviorID] = entry
				result.Hits = append(result.Hits, entry)
			}
			if hit.Similarity > entry.Scores[vt] {
				entry.Scores[vt] = hit.Similarity
			}
			if entry.Metadata == nil && hit.Metadata != nil {
				entry.Metadata = hit.Metadata
			}
		}
	}

	if failed > 0 && succeeded == 0 {
		return nil, errors.Wrapf(lastErr, "all %d vector searches failed", failed)
	}

	elapsed := time.Since(start)
	result.SearchLatencyMs = elapsed.Milliseconds()
	if elapsed > slowMultiSearchThreshold {
		slog.Warn("multi-vector search slow",
			"latency_ms", result.SearchLatencyMs,
			"vector_count", len(embeddings),
			"behaviors", len(result.Hits))
	}

	return result, nil
}

// GetConversationState loads a user's conversation state, or nil when the
// user has no recorded turns yet.
func (s *Service) GetConversationState(ctx context.Context, userID string) (*store.ConversationState, error) {
	if s.state == nil {
		return nil, nil
	}
	return s.state.GetConversationState(ctx, userID)
}

// UpdateConversationState applies a partial state update for the user.
func (s *Service) UpdateConversationState(ctx context.Context, userID string, patch store.StatePatch) (*store.ConversationState, error) {
	if s.state == nil {
		return nil, nil
	}
	return s.state.ApplyConversationState(ctx, userID, patch)
}
