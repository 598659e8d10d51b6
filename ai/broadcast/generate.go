package broadcast

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/havenloop/attune/ai/llm"
	"github.com/havenloop/attune/ai/search"
	"github.com/havenloop/attune/store"
)

const (
	// contextPlaceholder is embedded when the external-context template
	// cannot be built; a constant string keeps the vector stable.
	contextPlaceholder = "neutral conversational context"

	thoughtInstruction = "You observe a conversation. In one or two first-person sentences, note what the user seems to need right now."
)

// generated is one fan-out task's outcome, tagged with its logical name so
// completion order never matters.
type generated struct {
	vectorType search.VectorType
	vector     []float32
	text       string
	err        error
}

// generateVectors runs every applicable embedding task concurrently, each
// bounded by its own deadline. A timed-out or failed task yields an absent
// vector; only a failed userMessage task is fatal, since without it there is
// nothing to rank.
func (s *Service) generateVectors(ctx context.Context, input BroadcastInput, state *store.ConversationState) (map[search.VectorType][]float32, string, error) {
	tasks := make([]func(context.Context) generated, 0, 6)

	tasks = append(tasks, func(ctx context.Context) generated {
		vector, err := s.embedder.Embed(ctx, input.UserMessage)
		return generated{vectorType: search.VectorUserMessage, vector: vector, text: input.UserMessage, err: err}
	})

	if input.LastAgentMessage != "" {
		tasks = append(tasks, func(ctx context.Context) generated {
			vector, err := s.embedder.Embed(ctx, input.LastAgentMessage)
			return generated{vectorType: search.VectorAgentMessage, vector: vector, text: input.LastAgentMessage, err: err}
		})

		combined := fmt.Sprintf("Agent: %s\nUser: %s", input.LastAgentMessage, input.UserMessage)
		tasks = append(tasks, func(ctx context.Context) generated {
			vector, err := s.embedder.Embed(ctx, combined)
			return generated{vectorType: search.VectorCombined, vector: vector, text: combined, err: err}
		})
	}

	tasks = append(tasks, func(ctx context.Context) generated {
		thought := s.synthesizeThought(ctx, input.UserMessage)
		vector, err := s.embedder.Embed(ctx, thought)
		return generated{vectorType: search.VectorAgentThought, vector: vector, text: thought, err: err}
	})

	tasks = append(tasks, func(ctx context.Context) generated {
		text := s.externalContextText(state)
		vector, err := s.embedder.Embed(ctx, text)
		if err != nil {
			// Degrade to the constant placeholder before giving up.
			vector, err = s.embedder.Embed(ctx, contextPlaceholder)
			text = contextPlaceholder
		}
		return generated{vectorType: search.VectorExternalContext, vector: vector, text: text, err: err}
	})

	if len(input.ToolCalls) > 0 {
		text := "Recent tool calls: " + strings.Join(input.ToolCalls, ", ")
		tasks = append(tasks, func(ctx context.Context) generated {
			vector, err := s.embedder.Embed(ctx, text)
			return generated{vectorType: search.VectorToolCall, vector: vector, text: text, err: err}
		})
	}

	results := make([]generated, len(tasks))
	var g errgroup.Group
	for i, task := range tasks {
		g.Go(func() error {
			taskCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
			defer cancel()
			results[i] = task(taskCtx)
			return nil
		})
	}
	// Tasks never return errors to the group; failures are carried in the
	// tagged results so one slow signal cannot cancel the others.
	_ = g.Wait()

	vectors := make(map[search.VectorType][]float32, len(results))
	var thoughtText string
	for _, res := range results {
		if res.err != nil {
			if res.vectorType == search.VectorUserMessage {
				s.recordVectorFailure(res.vectorType)
				return nil, "", fmt.Errorf("failed to embed user message: %w", res.err)
			}
			s.recordVectorFailure(res.vectorType)
			s.logger.Warn("vector generation degraded, signal absent",
				"vector_type", res.vectorType,
				"error", res.err)
			continue
		}
		vectors[res.vectorType] = res.vector
		s.recordVectorGenerated(res.vectorType)
		if res.vectorType == search.VectorAgentThought {
			thoughtText = res.text
		}
	}
	return vectors, thoughtText, nil
}

// synthesizeThought asks the language model for a one-to-two sentence
// first-person observation about the turn. Any model failure degrades to a
// deterministic string so the thought vector is always attempted.
func (s *Service) synthesizeThought(ctx context.Context, userMessage string) string {
	fallback := "User said: " + userMessage
	if s.llm == nil {
		return fallback
	}

	reply, err := s.llm.Chat(ctx, []llm.Message{
		llm.SystemPrompt(thoughtInstruction),
		llm.UserMessage(userMessage),
	})
	if err != nil {
		s.logger.Warn("inner thought synthesis failed, using fallback", "error", err)
		return fallback
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return fallback
	}
	return reply
}

// externalContextText renders the ambient-context template: time-of-day
// bucket, weekday, and whatever conversation state is known for the user.
func (s *Service) externalContextText(state *store.ConversationState) string {
	now := s.now()
	var b strings.Builder
	fmt.Fprintf(&b, "It is %s on %s.", timeOfDayBucket(now.Hour()), now.Weekday())
	if state != nil && state.ActiveBehaviorID != "" {
		fmt.Fprintf(&b, " The user is in behavior %s with %d messages so far.",
			state.ActiveBehaviorID, state.MessageCountInBehavior)
	} else {
		b.WriteString(" No behavior is active yet.")
	}
	return b.String()
}

func timeOfDayBucket(hour int) string {
	switch {
	case hour < 12:
		return "morning"
	case hour < 18:
		return "afternoon"
	default:
		return "evening"
	}
}
