// Package memory provides the in-process conversation-state driver.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/havenloop/attune/store"
)

// DB keeps conversation state in a map guarded by one mutex; the counter
// increment happens under the lock, so concurrent calls for the same user
// never lose an update.
type DB struct {
	mu     sync.Mutex
	states map[string]*store.ConversationState
}

// NewDB creates an empty in-memory state driver.
func NewDB() *DB {
	return &DB{states: make(map[string]*store.ConversationState)}
}

func (d *DB) GetConversationState(_ context.Context, userID string) (*store.ConversationState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.states[userID]
	if !ok {
		return nil, nil
	}
	copied := *state
	copied.RecentToolCalls = append([]string(nil), state.RecentToolCalls...)
	return &copied, nil
}

func (d *DB) ApplyConversationState(_ context.Context, userID string, patch store.StatePatch) (*store.ConversationState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	state, ok := d.states[userID]
	if !ok {
		state = &store.ConversationState{UserID: userID}
		d.states[userID] = state
	}

	behaviorChanged := false
	if patch.ActiveBehaviorID != nil && *patch.ActiveBehaviorID != state.ActiveBehaviorID {
		state.ActiveBehaviorID = *patch.ActiveBehaviorID
		behaviorChanged = true
	}
	if patch.SessionID != nil {
		state.SessionID = *patch.SessionID
	}
	if patch.LastUserMessage != nil {
		state.LastUserMessage = *patch.LastUserMessage
	}
	if patch.LastAgentMessage != nil {
		state.LastAgentMessage = *patch.LastAgentMessage
	}
	if patch.RecentToolCalls != nil {
		state.RecentToolCalls = append([]string(nil), patch.RecentToolCalls...)
	}
	if patch.IncrementMessageCount {
		if behaviorChanged {
			state.MessageCountInBehavior = 1
		} else {
			state.MessageCountInBehavior++
		}
	}
	state.UpdatedTs = time.Now().Unix()

	copied := *state
	copied.RecentToolCalls = append([]string(nil), state.RecentToolCalls...)
	return &copied, nil
}

func (d *DB) Close() error {
	return nil
}

var _ store.Driver = (*DB)(nil)
