package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenloop/attune/store"
)

func strPtr(s string) *string { return &s }

func TestGetConversationState_Unknown(t *testing.T) {
	d := NewDB()
	state, err := d.GetConversationState(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestApplyConversationState_CreatesAndPatches(t *testing.T) {
	d := NewDB()
	ctx := context.Background()

	state, err := d.ApplyConversationState(ctx, "u1", store.StatePatch{
		LastUserMessage:       strPtr("hello"),
		ActiveBehaviorID:      strPtr("journaling"),
		IncrementMessageCount: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", state.LastUserMessage)
	assert.Equal(t, "journaling", state.ActiveBehaviorID)
	assert.Equal(t, 1, state.MessageCountInBehavior)

	// Partial patch leaves other fields untouched.
	state, err = d.ApplyConversationState(ctx, "u1", store.StatePatch{
		LastAgentMessage:      strPtr("hi there"),
		IncrementMessageCount: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", state.LastUserMessage)
	assert.Equal(t, "hi there", state.LastAgentMessage)
	assert.Equal(t, 2, state.MessageCountInBehavior)
}

func TestApplyConversationState_BehaviorSwitchResetsCounter(t *testing.T) {
	d := NewDB()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := d.ApplyConversationState(ctx, "u1", store.StatePatch{
			ActiveBehaviorID:      strPtr("journaling"),
			IncrementMessageCount: true,
		})
		require.NoError(t, err)
	}

	state, err := d.ApplyConversationState(ctx, "u1", store.StatePatch{
		ActiveBehaviorID:      strPtr("breathing"),
		IncrementMessageCount: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, state.MessageCountInBehavior)
}

func TestApplyConversationState_ConcurrentIncrements(t *testing.T) {
	d := NewDB()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.ApplyConversationState(ctx, "u1", store.StatePatch{IncrementMessageCount: true})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	state, err := d.GetConversationState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, n, state.MessageCountInBehavior, "no increment may be lost")
}

func TestGetConversationState_ReturnsCopy(t *testing.T) {
	d := NewDB()
	ctx := context.Background()

	_, err := d.ApplyConversationState(ctx, "u1", store.StatePatch{
		RecentToolCalls: []string{"breathing_timer"},
	})
	require.NoError(t, err)

	first, err := d.GetConversationState(ctx, "u1")
	require.NoError(t, err)
	first.RecentToolCalls[0] = "mutated"
	first.LastUserMessage = "mutated"

	second, err := d.GetConversationState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "breathing_timer", second.RecentToolCalls[0])
	assert.Empty(t, second.LastUserMessage)
}
