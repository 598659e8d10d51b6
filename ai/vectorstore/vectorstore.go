// Package vectorstore persists and searches behavior-trigger embeddings.
// Two interchangeable backends implement the same strategy interface: an
// in-process brute-force scan and a pgvector-indexed relational store.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"time"
)

// TriggerRecord is a behavior trigger paired with its embedding, ready for
// storage. One trigger maps to exactly one behavior; a behavior may have many
// triggers.
type TriggerRecord struct {
	ID          string
	BehaviorID  string
	TriggerText string
	Embedding   []float32
	Metadata    map[string]any
	CreatedAt   time.Time
}

// Record is an arbitrary stored embedding derived from live conversation
// text. Append-only; never mutated.
type Record struct {
	ID        string
	Content   string
	Embedding []float32
	Metadata  map[string]any
	CreatedAt time.Time
}

// SearchResult is one similarity search hit. Similarity is in [-1, 1].
type SearchResult struct {
	ID         string         `json:"id"`
	BehaviorID string         `json:"behavior_id"`
	Content    string         `json:"content"`
	Similarity float32        `json:"similarity"`
	Metadata   map[string]any `json:"metadata"`
}

// BackendStats reports backend contents.
type BackendStats struct {
	Backend      string `json:"backend"`
	TriggerCount int    `json:"trigger_count"`
	RecordCount  int    `json:"record_count"`
}

// Backend is the similarity search strategy interface.
type Backend interface {
	// Init provisions backend resources (tables, indexes).
	Init(ctx context.Context) error

	// StoreTriggers persists trigger embeddings. All triggers in one call
	// become visible to subsequent searches together, or not at all.
	StoreTriggers(ctx context.Context, triggers []TriggerRecord) error

	// StoreRecord appends one conversation embedding record.
	StoreRecord(ctx context.Context, rec Record) error

	// Search returns up to topK triggers ranked by cosine similarity to the
	// query vector, descending.
	Search(ctx context.Context, query []float32, topK int) ([]SearchResult, error)

	// Clear removes all stored triggers and records.
	Clear(ctx context.Context) error

	// Stats reports current backend contents.
	Stats(ctx context.Context) (BackendStats, error)

	// Name identifies the backend for logs and stats.
	Name() string
}

// CosineSimilarity computes dot(a,b) / (‖a‖·‖b‖).
// Returns an error when vector lengths differ; returns 0 (never NaN) when
// either norm is zero.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB)))), nil
}
