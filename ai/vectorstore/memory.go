package vectorstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBackend is the in-process backend: a map keyed by synthetic id,
// scored by brute-force cosine scan over all triggers.
type MemoryBackend struct {
	mu       sync.RWMutex
	triggers map[string]TriggerRecord
	records  map[string]Record
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		triggers: make(map[string]TriggerRecord),
		records:  make(map[string]Record),
	}
}

func (b *MemoryBackend) Init(_ context.Context) error {
	return nil
}

func (b *MemoryBackend) StoreTriggers(_ context.Context, triggers []TriggerRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, trigger := range triggers {
		if trigger.ID == "" {
			trigger.ID = uuid.NewString()
		}
		if trigger.CreatedAt.IsZero() {
			trigger.CreatedAt = time.Now()
		}
		b.triggers[trigger.ID] = trigger
	}
	return nil
}

func (b *MemoryBackend) StoreRecord(_ context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	b.records[rec.ID] = rec
	return nil
}

func (b *MemoryBackend) Search(_ context.Context, query []float32, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	results := make([]SearchResult, 0, len(b.triggers))
	for _, trigger := range b.triggers {
		sim, err := CosineSimilarity(query, trigger.Embedding)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{
			ID:         trigger.ID,
			BehaviorID: trigger.BehaviorID,
			Content:    trigger.TriggerText,
			Similarity: sim,
			Metadata:   trigger.Metadata,
		})
	}

	// Descending similarity; equal scores keep a stable id order so repeated
	// searches are deterministic.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (b *MemoryBackend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.triggers = make(map[string]TriggerRecord)
	b.records = make(map[string]Record)
	return nil
}

func (b *MemoryBackend) Stats(_ context.Context) (BackendStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BackendStats{
		Backend:      b.Name(),
		TriggerCount: len(b.triggers),
		RecordCount:  len(b.records),
	}, nil
}

func (b *MemoryBackend) Name() string {
	return "memory"
}
