// Package db selects the conversation-state storage driver.
package db

import (
	"github.com/havenloop/attune/internal/profile"
	"github.com/havenloop/attune/store"
	"github.com/havenloop/attune/store/db/memory"
	"github.com/havenloop/attune/store/db/sqlite"
)

// NewDriver creates a conversation-state driver from the profile. An empty
// state DSN keeps state in process memory.
func NewDriver(p *profile.Profile) (store.Driver, error) {
	if p.StateDSN == "" {
		return memory.NewDB(), nil
	}
	return sqlite.NewDB(p.StateDSN)
}
