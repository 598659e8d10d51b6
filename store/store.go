// Package store provides persistence for conversation state.
package store

import (
	"context"
)

// Driver is the storage driver interface for conversation state.
type Driver interface {
	// GetConversationState returns the state for a user, or nil when the
	// user has no state yet.
	GetConversationState(ctx context.Context, userID string) (*ConversationState, error)

	// ApplyConversationState applies a partial update and returns the
	// resulting state. The turn-counter increment is atomic at the storage
	// layer; concurrent calls for the same user never lose an increment.
	ApplyConversationState(ctx context.Context, userID string, patch StatePatch) (*ConversationState, error)

	Close() error
}

// Store provides access to conversation state through a storage driver.
type Store struct {
	driver Driver
}

// New creates a new instance of Store.
func New(driver Driver) *Store {
	return &Store{driver: driver}
}

func (s *Store) GetConversationState(ctx context.Context, userID string) (*ConversationState, error) {
	return s.driver.GetConversationState(ctx, userID)
}

func (s *Store) ApplyConversationState(ctx context.Context, userID string, patch StatePatch) (*ConversationState, error) {
	return s.driver.ApplyConversationState(ctx, userID, patch)
}

func (s *Store) Close() error {
	return s.driver.Close()
}
