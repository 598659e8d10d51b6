// Package sqlite provides the durable conversation-state driver.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/havenloop/attune/store"
)

type DB struct {
	db *sql.DB
}

// NewDB opens the conversation-state database at the given path.
//
// Notes:
//   - When using the `modernc.org/sqlite` driver, each pragma must be prefixed
//     with `_pragma=`.
//   - WAL journal mode prevents locking issues; a single connection is optimal
//     with WAL for this workload.
func NewDB(dsn string) (store.Driver, error) {
	if dsn == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", dsn+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", dsn)
	}

	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := &DB{db: sqliteDB}
	if err := driver.migrate(context.Background()); err != nil {
		_ = sqliteDB.Close()
		return nil, err
	}

	return driver, nil
}

func (d *DB) migrate(ctx context.Context) error {
	stmt := `
		CREATE TABLE IF NOT EXISTS conversation_state (
			user_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			last_user_message TEXT NOT NULL DEFAULT '',
			last_agent_message TEXT NOT NULL DEFAULT '',
			recent_tool_calls TEXT NOT NULL DEFAULT '[]',
			active_behavior_id TEXT NOT NULL DEFAULT '',
			message_count_in_behavior INTEGER NOT NULL DEFAULT 0,
			updated_ts BIGINT NOT NULL
		)
	`
	_, err := d.db.ExecContext(ctx, stmt)
	return errors.Wrap(err, "failed to migrate conversation_state")
}

func (d *DB) Close() error {
	return d.db.Close()
}
