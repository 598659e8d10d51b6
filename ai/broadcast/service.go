// Package broadcast is the top-level turn orchestrator: it fans a
// conversational turn out into per-signal embeddings, runs the multi-vector
// behavior search, folds in priority and continuity, persists the generated
// embeddings for future retrieval, and returns the ranked candidates with
// timing telemetry.
package broadcast

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/havenloop/attune/ai/embedding"
	"github.com/havenloop/attune/ai/internal/strutil"
	"github.com/havenloop/attune/ai/llm"
	"github.com/havenloop/attune/ai/metrics"
	"github.com/havenloop/attune/ai/search"
	"github.com/havenloop/attune/ai/vectorstore"
	"github.com/havenloop/attune/store"
)

// DefaultTaskTimeout bounds each fan-out generation task. A timed-out task
// becomes an absent vector instead of stalling the whole broadcast.
const DefaultTaskTimeout = 5 * time.Second

// BroadcastInput is one conversational turn.
type BroadcastInput struct {
	UserID           string   `json:"userId"`
	SessionID        string   `json:"sessionId,omitempty"`
	UserMessage      string   `json:"userMessage"`
	LastAgentMessage string   `json:"lastAgentMessage,omitempty"`
	ToolCalls        []string `json:"toolCalls,omitempty"`
}

// Telemetry reports where a broadcast spent its time. Observational only;
// nothing downstream branches on it.
type Telemetry struct {
	GenerationMs int64 `json:"generationMs"`
	SearchMs     int64 `json:"searchMs"`
	TotalMs      int64 `json:"totalMs"`
}

// BroadcastResult is the ranked outcome of one turn.
type BroadcastResult struct {
	RequestID        string                     `json:"requestId"`
	Candidates       []search.BehaviorCandidate `json:"candidates"`
	TopBehaviorID    string                     `json:"topBehaviorId"`
	TopBehaviorScore float32                    `json:"topBehaviorScore"`
	GeneratedVectors map[search.VectorType]bool `json:"generatedVectors"`
	InnerThought     string                     `json:"innerThought,omitempty"`
	Telemetry        Telemetry                  `json:"telemetry"`
}

// Service orchestrates the broadcast pipeline. All collaborators are injected
// so tests can swap in fakes.
type Service struct {
	embedder embedding.Service
	llm      llm.Service
	searcher *search.Service
	vectors  *vectorstore.Service
	exporter *metrics.PrometheusExporter
	logger   *slog.Logger

	taskTimeout time.Duration
	now         func() time.Time
}

// Config wires the broadcast service. Embedder, Searcher and Vectors are
// required; LLM and Exporter are optional (nil disables thought synthesis and
// metrics respectively).
type Config struct {
	Embedder    embedding.Service
	LLM         llm.Service
	Searcher    *search.Service
	Vectors     *vectorstore.Service
	Exporter    *metrics.PrometheusExporter
	Logger      *slog.Logger
	TaskTimeout time.Duration
}

// NewService creates the broadcast orchestrator.
func NewService(cfg Config) *Service {
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		embedder:    cfg.Embedder,
		llm:         cfg.LLM,
		searcher:    cfg.Searcher,
		vectors:     cfg.Vectors,
		exporter:    cfg.Exporter,
		logger:      logger,
		taskTimeout: timeout,
		now:         time.Now,
	}
}

// SetVectorWeights merges partial weight overrides into the ranking weights.
func (s *Service) SetVectorWeights(weights map[search.VectorType]float32) {
	s.searcher.SetVectorWeights(weights)
}

// GetVectorWeights returns the active ranking weights.
func (s *Service) GetVectorWeights() map[search.VectorType]float32 {
	return s.searcher.VectorWeights()
}

// Broadcast turns one conversational turn into a ranked behavior candidate
// list. Only two failures abort the call: an unusable user message and a
// failed search stage. Everything else degrades with a logged warning.
func (s *Service) Broadcast(ctx context.Context, input BroadcastInput) (*BroadcastResult, error) {
	start := time.Now()
	requestID := shortuuid.New()
	logger := s.logger.With("request_id", requestID, "user_id", input.UserID)

	if strings.TrimSpace(input.UserMessage) == "" {
		s.recordBroadcast(time.Since(start), false)
		return nil, errors.New("user message must not be empty")
	}

	// Conversation state feeds the external-context vector and the
	// continuity bonus. Missing state is normal for a first turn.
	state, err := s.searcher.GetConversationState(ctx, input.UserID)
	if err != nil {
		logger.Warn("failed to load conversation state, proceeding without it", "error", err)
		state = nil
	}

	genStart := time.Now()
	vectors, thought, err := s.generateVectors(ctx, input, state)
	generationMs := time.Since(genStart).Milliseconds()
	if err != nil {
		s.recordBroadcast(time.Since(start), false)
		return nil, err
	}
	s.recordStage("generation", time.Since(genStart))

	searchStart := time.Now()
	multi, err := s.searcher.SearchMultiVector(ctx, vectors)
	if err != nil {
		s.recordBroadcast(time.Since(start), false)
		return nil, errors.Wrap(err, "behavior search failed")
	}
	s.recordStage("search", time.Since(searchStart))

	currentBehaviorID := ""
	if state != nil {
		currentBehaviorID = state.ActiveBehaviorID
	}
	candidates := s.searcher.RankBehaviorCandidates(multi)
	candidates = s.searcher.ApplyBehaviorPriority(candidates, currentBehaviorID)

	// Callers must never receive an undefined top choice.
	if len(candidates) == 0 {
		candidates = []search.BehaviorCandidate{{BehaviorID: "default", Score: 0}}
	}

	if s.exporter != nil {
		s.exporter.RecordSearch(time.Duration(multi.SearchLatencyMs)*time.Millisecond, len(candidates))
	}

	persistStart := time.Now()
	s.persistEmbeddings(ctx, logger, input, vectors, thought)
	s.recordStage("persistence", time.Since(persistStart))

	s.updateState(ctx, logger, input)

	generatedVectors := make(map[search.VectorType]bool, 6)
	for _, vt := range []search.VectorType{
		search.VectorUserMessage, search.VectorAgentMessage, search.VectorCombined,
		search.VectorAgentThought, search.VectorExternalContext, search.VectorToolCall,
	} {
		_, ok := vectors[vt]
		generatedVectors[vt] = ok
	}

	result := &BroadcastResult{
		RequestID:        requestID,
		Candidates:       candidates,
		TopBehaviorID:    candidates[0].BehaviorID,
		TopBehaviorScore: candidates[0].Score,
		GeneratedVectors: generatedVectors,
		InnerThought:     thought,
		Telemetry: Telemetry{
			GenerationMs: generationMs,
			SearchMs:     multi.SearchLatencyMs,
			TotalMs:      time.Since(start).Milliseconds(),
		},
	}

	s.recordBroadcast(time.Since(start), true)
	logger.Info("broadcast complete",
		"user_message", strutil.Truncate(input.UserMessage, 50),
		"top_behavior", result.TopBehaviorID,
		"top_score", result.TopBehaviorScore,
		"candidates", len(result.Candidates),
		"generation_ms", result.Telemetry.GenerationMs,
		"search_ms", result.Telemetry.SearchMs,
		"total_ms", result.Telemetry.TotalMs)
	return result, nil
}

// GetBehaviorCandidacyPool runs the generation and ranking stages without the
// persistence or state side effects and returns the top N candidates. Useful
// for previewing what a turn would route to.
func (s *Service) GetBehaviorCandidacyPool(ctx context.Context, input BroadcastInput, topN int) ([]search.BehaviorCandidate, error) {
	if strings.TrimSpace(input.UserMessage) == "" {
		return nil, errors.New("user message must not be empty")
	}

	state, err := s.searcher.GetConversationState(ctx, input.UserID)
	if err != nil {
		state = nil
	}

	vectors, _, err := s.generateVectors(ctx, input, state)
	if err != nil {
		return nil, err
	}

	multi, err := s.searcher.SearchMultiVector(ctx, vectors)
	if err != nil {
		return nil, errors.Wrap(err, "behavior search failed")
	}

	currentBehaviorID := ""
	if state != nil {
		currentBehaviorID = state.ActiveBehaviorID
	}
	candidates := s.searcher.RankBehaviorCandidates(multi)
	candidates = s.searcher.ApplyBehaviorPriority(candidates, currentBehaviorID)
	if topN > 0 && len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates, nil
}

// persistEmbeddings writes the turn's primary embeddings back to the store so
// future searches can match against them. Strictly best-effort.
func (s *Service) persistEmbeddings(ctx context.Context, logger *slog.Logger, input BroadcastInput, vectors map[search.VectorType][]float32, thought string) {
	persist := []struct {
		vectorType search.VectorType
		text       string
	}{
		{search.VectorUserMessage, input.UserMessage},
		{search.VectorAgentMessage, input.LastAgentMessage},
		{search.VectorAgentThought, thought},
	}

	for _, p := range persist {
		vector, ok := vectors[p.vectorType]
		if !ok || p.text == "" {
			continue
		}
		metadata := map[string]any{
			"vector_type": string(p.vectorType),
			"user_id":     input.UserID,
		}
		if err := s.vectors.StoreEmbedding(ctx, p.text, vector, metadata); err != nil {
			logger.Warn("failed to persist turn embedding",
				"vector_type", p.vectorType,
				"error", err)
		}
	}
}

// updateState records the turn in conversation state. Best-effort; a state
// write failure never fails the broadcast.
func (s *Service) updateState(ctx context.Context, logger *slog.Logger, input BroadcastInput) {
	patch := store.StatePatch{
		LastUserMessage:       &input.UserMessage,
		IncrementMessageCount: true,
	}
	if input.SessionID != "" {
		patch.SessionID = &input.SessionID
	}
	if input.LastAgentMessage != "" {
		patch.LastAgentMessage = &input.LastAgentMessage
	}
	if input.ToolCalls != nil {
		patch.RecentToolCalls = input.ToolCalls
	}
	if _, err := s.searcher.UpdateConversationState(ctx, input.UserID, patch); err != nil {
		logger.Warn("failed to update conversation state", "error", err)
	}
}

func (s *Service) recordBroadcast(latency time.Duration, success bool) {
	if s.exporter != nil {
		s.exporter.RecordBroadcast(latency, success)
	}
}

func (s *Service) recordStage(stage string, latency time.Duration) {
	if s.exporter != nil {
		s.exporter.RecordStageLatency(stage, latency)
	}
}

func (s *Service) recordVectorGenerated(vt search.VectorType) {
	if s.exporter != nil {
		s.exporter.RecordVectorGenerated(string(vt))
	}
}

func (s *Service) recordVectorFailure(vt search.VectorType) {
	if s.exporter != nil {
		s.exporter.RecordVectorFailure(string(vt))
	}
}
