package search

import (
	"sort"
	"strconv"
)

// priorityMetadataKey is the trigger-metadata field holding a behavior's
// priority multiplier. Values may arrive as float64, int, or a numeric
// string depending on the backend that stored them.
const priorityMetadataKey = "priority_multiplier"

// BehaviorCandidate is one entry of the final ranked list.
type BehaviorCandidate struct {
	BehaviorID   string                 `json:"behaviorId"`
	Score        float32                `json:"score"`
	VectorScores map[VectorType]float32 `json:"vectorScores"`
	Metadata     map[string]any         `json:"metadata,omitempty"`
}

// RankBehaviorCandidates collapses per-type similarities into one weighted
// score per behavior and sorts the result descending. Ties keep the hits'
// original encounter order, which is deterministic because SearchMultiVector
// walks vector types in a fixed order.
func (s *Service) RankBehaviorCandidates(result *MultiVectorResult) []BehaviorCandidate {
	if result == nil || len(result.Hits) == 0 {
		return nil
	}

	s.mu.RLock()
	weights := make(map[VectorType]float32, len(s.weights))
	for vt, w := range s.weights {
		weights[vt] = w
	}
	s.mu.RUnlock()

	candidates := make([]BehaviorCandidate, 0, len(result.Hits))
	for _, hit := range result.Hits {
		var score float32
		scores := make(map[VectorType]float32, len(hit.Scores))
		for _, vt := range vectorTypeOrder {
			sim, ok := hit.Scores[vt]
			if !ok {
				continue
			}
			scores[vt] = sim
			score += sim * weights[vt]
		}
		candidates = append(candidates, BehaviorCandidate{
			BehaviorID:   hit.BehaviorID,
			Score:        score,
			VectorScores: scores,
			Metadata:     hit.Metadata,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

// ApplyBehaviorPriority adjusts already-weighted scores: each candidate's
// score is scaled by its priority multiplier, then the behavior the
// conversation is currently in receives a flat continuity bonus. The bonus is
// added after the multiplier so a low-priority active behavior still gets the
// full bias toward staying put.
func (s *Service) ApplyBehaviorPriority(candidates []BehaviorCandidate, currentBehaviorID string) []BehaviorCandidate {
	if len(candidates) == 0 {
		return candidates
	}

	for i := range candidates {
		candidates[i].Score *= priorityMultiplier(candidates[i].Metadata)
		if currentBehaviorID != "" && candidates[i].BehaviorID == currentBehaviorID {
			candidates[i].Score += ContinuityBonus
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

func priorityMultiplier(metadata map[string]any) float32 {
	if metadata == nil {
		return 1.0
	}
	switch v := metadata[priorityMetadataKey].(type) {
	case float64:
		if v > 0 {
			return float32(v)
		}
	case float32:
		if v > 0 {
			return v
		}
	case int:
		if v > 0 {
			return float32(v)
		}
	case string:
		if f, err := strconv.ParseFloat(v, 32); err == nil && f > 0 {
			return float32(f)
		}
	}
	return 1.0
}
