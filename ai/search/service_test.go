package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenloop/attune/ai/vectorstore"
	"github.com/havenloop/attune/store"
	"github.com/havenloop/attune/store/db/memory"
)

// Unit axes give exact cosine similarities: 1 against themselves, 0 against
// each other.
var (
	axisX = []float32{1, 0, 0}
	axisY = []float32{0, 1, 0}
	axisZ = []float32{0, 0, 1}
)

func newTestService(t *testing.T, triggers []vectorstore.TriggerRecord) *Service {
	t.Helper()
	backend := vectorstore.NewMemoryBackend()
	ctx := context.Background()
	require.NoError(t, backend.Init(ctx))
	require.NoError(t, backend.StoreTriggers(ctx, triggers))

	return NewService(Config{
		Vectors: vectorstore.NewService(backend, nil),
		State:   store.New(memory.NewDB()),
	})
}

func TestSearchMultiVector_GroupsByBehavior(t *testing.T) {
	svc := newTestService(t, []vectorstore.TriggerRecord{
		{BehaviorID: "grounding", TriggerText: "anxious", Embedding: axisX},
		{BehaviorID: "grounding", TriggerText: "panicked", Embedding: axisY},
		{BehaviorID: "journaling", TriggerText: "reflect", Embedding: axisZ},
	})

	result, err := svc.SearchMultiVector(context.Background(), map[VectorType][]float32{
		VectorUserMessage:  axisX,
		VectorAgentThought: axisZ,
	})
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)

	byID := make(map[string]*BehaviorHit)
	for _, hit := range result.Hits {
		byID[hit.BehaviorID] = hit
	}
	assert.InDelta(t, 1.0, byID["grounding"].Scores[VectorUserMessage], 1e-6)
	assert.InDelta(t, 1.0, byID["journaling"].Scores[VectorAgentThought], 1e-6)
	// Orthogonal triggers fall below the similarity threshold and leave no
	// score at all for that type.
	_, present := byID["journaling"].Scores[VectorUserMessage]
	assert.False(t, present)
	assert.GreaterOrEqual(t, result.SearchLatencyMs, int64(0))
}

func TestSearchMultiVector_SkipsAbsentVectors(t *testing.T) {
	svc := newTestService(t, []vectorstore.TriggerRecord{
		{BehaviorID: "grounding", TriggerText: "anxious", Embedding: axisX},
	})

	result, err := svc.SearchMultiVector(context.Background(), map[VectorType][]float32{
		VectorUserMessage: axisX,
		VectorToolCall:    nil, // turn had no tool call
	})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Len(t, result.Hits[0].Scores, 1)
}

// flakySearchBackend delegates to the in-memory backend but fails Search for
// selected query vectors, simulating a partially or fully unreachable store.
type flakySearchBackend struct {
	*vectorstore.MemoryBackend
	failOn func(query []float32) bool
}

func (b *flakySearchBackend) Search(ctx context.Context, query []float32, topK int) ([]vectorstore.SearchResult, error) {
	if b.failOn(query) {
		return nil, errors.New("store unreachable")
	}
	return b.MemoryBackend.Search(ctx, query, topK)
}

func TestSearchMultiVector_ErrorsWhenEverySearchFails(t *testing.T) {
	backend := &flakySearchBackend{
		MemoryBackend: vectorstore.NewMemoryBackend(),
		failOn:        func([]float32) bool { return true },
	}
	svc := NewService(Config{
		Vectors: vectorstore.NewService(backend, nil),
		State:   store.New(memory.NewDB()),
	})

	result, err := svc.SearchMultiVector(context.Background(), map[VectorType][]float32{
		VectorUserMessage:  axisX,
		VectorAgentThought: axisZ,
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "all 2 vector searches failed")
}

func TestSearchMultiVector_PartialFailureStillRanks(t *testing.T) {
	ctx := context.Background()
	backend := &flakySearchBackend{
		MemoryBackend: vectorstore.NewMemoryBackend(),
		failOn:        func(query []float32) bool { return query[1] == 1 },
	}
	require.NoError(t, backend.Init(ctx))
	require.NoError(t, backend.StoreTriggers(ctx, []vectorstore.TriggerRecord{
		{BehaviorID: "grounding", TriggerText: "anxious", Embedding: axisX},
	}))
	svc := NewService(Config{
		Vectors: vectorstore.NewService(backend, nil),
		State:   store.New(memory.NewDB()),
	})

	// The agent-message search dies, the user-message search survives; the
	// surviving signal still yields a ranking.
	result, err := svc.SearchMultiVector(ctx, map[VectorType][]float32{
		VectorUserMessage:  axisX,
		VectorAgentMessage: axisY,
	})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "grounding", result.Hits[0].BehaviorID)
}

func TestSearchMultiVector_EmptyInput(t *testing.T) {
	svc := newTestService(t, nil)
	result, err := svc.SearchMultiVector(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Hits)
}

func TestRankBehaviorCandidates_WeightsDominantSignal(t *testing.T) {
	// Both behaviors match with similarity 1.0, but on different signals:
	// grounding on the user message (weight 1.0), journaling only on the
	// agent message (weight 0.3).
	svc := newTestService(t, []vectorstore.TriggerRecord{
		{BehaviorID: "grounding", TriggerText: "anxious", Embedding: axisX},
		{BehaviorID: "journaling", TriggerText: "noted that", Embedding: axisY},
	})

	result, err := svc.SearchMultiVector(context.Background(), map[VectorType][]float32{
		VectorUserMessage:  axisX,
		VectorAgentMessage: axisY,
	})
	require.NoError(t, err)

	ranked := svc.RankBehaviorCandidates(result)
	require.Len(t, ranked, 2)
	assert.Equal(t, "grounding", ranked[0].BehaviorID)
	assert.InDelta(t, 1.0, ranked[0].Score, 1e-6)
	assert.InDelta(t, 0.3, ranked[1].Score, 1e-6)
}

func TestRankBehaviorCandidates_SumsAcrossTypes(t *testing.T) {
	svc := newTestService(t, []vectorstore.TriggerRecord{
		{BehaviorID: "grounding", TriggerText: "anxious", Embedding: axisX},
	})

	// The same trigger matches both the user message and the combined
	// exchange; the scores add under their respective weights.
	result, err := svc.SearchMultiVector(context.Background(), map[VectorType][]float32{
		VectorUserMessage: axisX,
		VectorCombined:    axisX,
	})
	require.NoError(t, err)

	ranked := svc.RankBehaviorCandidates(result)
	require.Len(t, ranked, 1)
	assert.InDelta(t, 1.0+0.5, ranked[0].Score, 1e-6)
}

func TestRankBehaviorCandidates_StableTieOrder(t *testing.T) {
	svc := newTestService(t, nil)

	result := &MultiVectorResult{Hits: []*BehaviorHit{
		{BehaviorID: "first", Scores: map[VectorType]float32{VectorUserMessage: 0.8}},
		{BehaviorID: "second", Scores: map[VectorType]float32{VectorUserMessage: 0.8}},
	}}

	for i := 0; i < 10; i++ {
		ranked := svc.RankBehaviorCandidates(result)
		require.Len(t, ranked, 2)
		assert.Equal(t, "first", ranked[0].BehaviorID)
		assert.Equal(t, "second", ranked[1].BehaviorID)
	}
}

func TestSetVectorWeights_MergesOverDefaults(t *testing.T) {
	svc := newTestService(t, nil)
	svc.SetVectorWeights(map[VectorType]float32{VectorToolCall: 0.9})

	weights := svc.VectorWeights()
	assert.InDelta(t, 0.9, weights[VectorToolCall], 1e-6)
	assert.InDelta(t, 1.0, weights[VectorUserMessage], 1e-6, "untouched types keep defaults")
}

func TestApplyBehaviorPriority_MultiplierAndContinuity(t *testing.T) {
	svc := newTestService(t, nil)

	candidates := []BehaviorCandidate{
		{BehaviorID: "crisis", Score: 0.5, Metadata: map[string]any{"priority_multiplier": 2.0}},
		{BehaviorID: "grounding", Score: 0.8},
		{BehaviorID: "journaling", Score: 0.6},
	}

	ranked := svc.ApplyBehaviorPriority(candidates, "journaling")
	require.Len(t, ranked, 3)

	// crisis: 0.5 * 2.0 = 1.0; grounding: 0.8; journaling: 0.6 + 0.15 = 0.75
	assert.Equal(t, "crisis", ranked[0].BehaviorID)
	assert.InDelta(t, 1.0, ranked[0].Score, 1e-6)
	assert.Equal(t, "grounding", ranked[1].BehaviorID)
	assert.Equal(t, "journaling", ranked[2].BehaviorID)
	assert.InDelta(t, 0.75, ranked[2].Score, 1e-6)
}

func TestApplyBehaviorPriority_BonusAfterMultiplier(t *testing.T) {
	svc := newTestService(t, nil)

	// A deprioritized active behavior still gets the full flat bonus.
	candidates := []BehaviorCandidate{
		{BehaviorID: "grounding", Score: 0.4, Metadata: map[string]any{"priority_multiplier": 0.5}},
	}
	ranked := svc.ApplyBehaviorPriority(candidates, "grounding")
	assert.InDelta(t, 0.4*0.5+ContinuityBonus, ranked[0].Score, 1e-6)
}

func TestApplyBehaviorPriority_MetadataVariants(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]any
		want     float32
	}{
		{"nil metadata", nil, 1.0},
		{"missing key", map[string]any{"category": "care"}, 1.0},
		{"float64", map[string]any{"priority_multiplier": 1.5}, 1.5},
		{"int", map[string]any{"priority_multiplier": 2}, 2.0},
		{"string", map[string]any{"priority_multiplier": "1.25"}, 1.25},
		{"garbage string", map[string]any{"priority_multiplier": "high"}, 1.0},
		{"non-positive", map[string]any{"priority_multiplier": -1.0}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, priorityMultiplier(tt.metadata), 1e-6)
		})
	}
}

func TestConversationStateRoundTrip(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	behavior := "grounding"
	state, err := svc.UpdateConversationState(ctx, "u1", store.StatePatch{
		ActiveBehaviorID:      &behavior,
		IncrementMessageCount: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, state.MessageCountInBehavior)

	loaded, err := svc.GetConversationState(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "grounding", loaded.ActiveBehaviorID)
}
