// Package search implements multi-vector behavior retrieval: each
// conversational turn yields up to six embeddings, every embedding is searched
// against the behavior-trigger store, and the per-type scores are fused into a
// single ranked candidate list.
package search

// VectorType identifies which conversational signal an embedding was derived
// from. Each type carries its own weight in the fused ranking.
type VectorType string

const (
	VectorUserMessage     VectorType = "user_message"
	VectorAgentMessage    VectorType = "agent_message"
	VectorCombined        VectorType = "combined_exchange"
	VectorAgentThought    VectorType = "agent_thought"
	VectorExternalContext VectorType = "external_context"
	VectorToolCall        VectorType = "tool_call"
)

// vectorTypeOrder fixes the iteration order over vector types. Map iteration
// is randomized in Go, so every loop that feeds the ranking walks this slice
// instead; candidate order (and therefore tie-breaking) stays deterministic
// across runs.
var vectorTypeOrder = []VectorType{
	VectorUserMessage,
	VectorAgentMessage,
	VectorCombined,
	VectorAgentThought,
	VectorExternalContext,
	VectorToolCall,
}

// DefaultWeights returns the built-in per-type ranking weights. The direct
// user message dominates; the agent's own reasoning is a strong secondary
// signal; everything else contributes context.
func DefaultWeights() map[VectorType]float32 {
	return map[VectorType]float32{
		VectorUserMessage:     1.0,
		VectorAgentMessage:    0.3,
		VectorCombined:        0.5,
		VectorAgentThought:    0.7,
		VectorExternalContext: 0.4,
		VectorToolCall:        0.3,
	}
}
