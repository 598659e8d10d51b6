package store

// ConversationState is the per-user mutable conversation record. Created on
// a user's first turn, updated every turn, overwritten in place.
type ConversationState struct {
	UserID                 string   `json:"user_id"`
	SessionID              string   `json:"session_id"`
	LastUserMessage        string   `json:"last_user_message"`
	LastAgentMessage       string   `json:"last_agent_message"`
	RecentToolCalls        []string `json:"recent_tool_calls"`
	ActiveBehaviorID       string   `json:"active_behavior_id"`
	MessageCountInBehavior int      `json:"message_count_in_behavior"`
	UpdatedTs              int64    `json:"updated_ts"`
}

// StatePatch is a partial conversation-state update. Nil fields are left
// unchanged.
type StatePatch struct {
	SessionID        *string
	LastUserMessage  *string
	LastAgentMessage *string
	RecentToolCalls  []string
	ActiveBehaviorID *string

	// IncrementMessageCount bumps the per-behavior turn counter atomically at
	// the storage layer. When the patch switches ActiveBehaviorID the counter
	// restarts at 1.
	IncrementMessageCount bool
}
