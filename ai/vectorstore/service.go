package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/havenloop/attune/ai/embedding"
)

// slowSearchThreshold triggers a non-fatal latency warning.
const slowSearchThreshold = 100 * time.Millisecond

// Trigger is an administratively seeded behavior trigger, not yet embedded.
type Trigger struct {
	BehaviorID  string         `json:"behavior_id"`
	TriggerText string         `json:"trigger_text"`
	Metadata    map[string]any `json:"metadata"`
}

// Service fronts a similarity search backend, embedding trigger and query
// texts through the shared embedding service.
type Service struct {
	backend  Backend
	embedder embedding.Service
}

// NewService creates a vector store service over the preferred backend.
// Call Initialize before use.
func NewService(preferred Backend, embedder embedding.Service) *Service {
	if preferred == nil {
		preferred = NewMemoryBackend()
	}
	return &Service{backend: preferred, embedder: embedder}
}

// Initialize provisions the preferred backend. Any provisioning failure
// (missing extension, connection failure) falls back silently to the
// in-memory backend; degraded mode is logged, never surfaced.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.backend.Init(ctx); err != nil {
		slog.Warn("vector store backend unavailable, falling back to in-memory backend",
			"backend", s.backend.Name(),
			"error", err)
		s.backend = NewMemoryBackend()
		return s.backend.Init(ctx)
	}
	slog.Info("vector store initialized", "backend", s.backend.Name())
	return nil
}

// Backend returns the active backend name.
func (s *Service) Backend() string {
	return s.backend.Name()
}

// StoreTriggerEmbeddings embeds trigger texts in one batch and persists them.
// The batch is atomic from the caller's point of view.
func (s *Service) StoreTriggerEmbeddings(ctx context.Context, triggers []Trigger) error {
	if len(triggers) == 0 {
		return nil
	}

	texts := make([]string, len(triggers))
	for i, trigger := range triggers {
		texts[i] = trigger.TriggerText
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed trigger texts: %w", err)
	}

	records := make([]TriggerRecord, len(triggers))
	for i, trigger := range triggers {
		records[i] = TriggerRecord{
			BehaviorID:  trigger.BehaviorID,
			TriggerText: trigger.TriggerText,
			Embedding:   vectors[i],
			Metadata:    trigger.Metadata,
		}
	}

	if err := s.backend.StoreTriggers(ctx, records); err != nil {
		return fmt.Errorf("failed to store trigger embeddings: %w", err)
	}

	slog.Debug("stored trigger embeddings", "count", len(records), "backend", s.backend.Name())
	return nil
}

// StoreEmbedding appends one conversation embedding record.
func (s *Service) StoreEmbedding(ctx context.Context, content string, vector []float32, metadata map[string]any) error {
	return s.backend.StoreRecord(ctx, Record{
		Content:   content,
		Embedding: vector,
		Metadata:  metadata,
	})
}

// SearchSimilar returns up to topK triggers ranked by similarity to the
// query embedding, descending.
func (s *Service) SearchSimilar(ctx context.Context, query []float32, topK int) ([]SearchResult, error) {
	start := time.Now()
	results, err := s.backend.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	if elapsed := time.Since(start); elapsed > slowSearchThreshold {
		slog.Warn("slow similarity search",
			"latency_ms", elapsed.Milliseconds(),
			"backend", s.backend.Name(),
			"top_k", topK)
	}

	return results, nil
}

// TopKSimilar embeds the query text and returns its nearest triggers.
func (s *Service) TopKSimilar(ctx context.Context, queryText string, topK int) ([]SearchResult, error) {
	vector, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query text: %w", err)
	}
	return s.SearchSimilar(ctx, vector, topK)
}

// ClearAll removes all stored triggers and conversation embeddings.
func (s *Service) ClearAll(ctx context.Context) error {
	return s.backend.Clear(ctx)
}

// GetStats reports backend contents.
func (s *Service) GetStats(ctx context.Context) (BackendStats, error) {
	return s.backend.Stats(ctx)
}
