package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/havenloop/attune/store"
)

// GetConversationState returns a user's state, or nil when none exists.
func (d *DB) GetConversationState(ctx context.Context, userID string) (*store.ConversationState, error) {
	query := `
		SELECT user_id, session_id, last_user_message, last_agent_message,
			recent_tool_calls, active_behavior_id, message_count_in_behavior, updated_ts
		FROM conversation_state
		WHERE user_id = ?
	`

	state, err := scanConversationState(d.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get conversation state")
	}
	return state, nil
}

// ApplyConversationState upserts a partial update. The turn counter is
// incremented inside the statement itself, so overlapping calls for the same
// user cannot lose an update; switching the active behavior restarts the
// counter at 1.
func (d *DB) ApplyConversationState(ctx context.Context, userID string, patch store.StatePatch) (*store.ConversationState, error) {
	var toolCalls any
	if patch.RecentToolCalls != nil {
		data, err := json.Marshal(patch.RecentToolCalls)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode tool calls")
		}
		toolCalls = string(data)
	}

	increment := 0
	if patch.IncrementMessageCount {
		increment = 1
	}

	stmt := `
		INSERT INTO conversation_state (
			user_id, session_id, last_user_message, last_agent_message,
			recent_tool_calls, active_behavior_id, message_count_in_behavior, updated_ts
		)
		VALUES (?1, COALESCE(?2, ''), COALESCE(?3, ''), COALESCE(?4, ''), COALESCE(?5, '[]'), COALESCE(?6, ''), ?7, ?8)
		ON CONFLICT (user_id) DO UPDATE SET
			session_id = COALESCE(?2, session_id),
			last_user_message = COALESCE(?3, last_user_message),
			last_agent_message = COALESCE(?4, last_agent_message),
			recent_tool_calls = COALESCE(?5, recent_tool_calls),
			message_count_in_behavior = CASE
				WHEN ?7 = 0 THEN message_count_in_behavior
				WHEN ?6 IS NOT NULL AND ?6 <> active_behavior_id THEN 1
				ELSE message_count_in_behavior + 1
			END,
			active_behavior_id = COALESCE(?6, active_behavior_id),
			updated_ts = ?8
		RETURNING user_id, session_id, last_user_message, last_agent_message,
			recent_tool_calls, active_behavior_id, message_count_in_behavior, updated_ts
	`

	state, err := scanConversationState(d.db.QueryRowContext(ctx, stmt,
		userID,
		nullable(patch.SessionID),
		nullable(patch.LastUserMessage),
		nullable(patch.LastAgentMessage),
		toolCalls,
		nullable(patch.ActiveBehaviorID),
		increment,
		time.Now().Unix(),
	))
	if err != nil {
		return nil, errors.Wrap(err, "failed to apply conversation state")
	}
	return state, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversationState(row rowScanner) (*store.ConversationState, error) {
	var state store.ConversationState
	var toolCalls string
	err := row.Scan(
		&state.UserID,
		&state.SessionID,
		&state.LastUserMessage,
		&state.LastAgentMessage,
		&toolCalls,
		&state.ActiveBehaviorID,
		&state.MessageCountInBehavior,
		&state.UpdatedTs,
	)
	if err != nil {
		return nil, err
	}
	if toolCalls != "" {
		if err := json.Unmarshal([]byte(toolCalls), &state.RecentToolCalls); err != nil {
			return nil, errors.Wrap(err, "failed to decode tool calls")
		}
	}
	return &state, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

var _ store.Driver = (*DB)(nil)
