package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	// Registers the postgres driver.
	_ "github.com/lib/pq"
)

// PostgresBackend stores trigger embeddings in a pgvector-indexed table and
// queries them with the cosine distance operator.
type PostgresBackend struct {
	db         *sql.DB
	dimensions int
}

// NewPostgresBackend opens a connection pool for the pgvector backend.
// Init must be called before use; a provisioning failure there is the signal
// for the caller to fall back to the in-memory backend.
func NewPostgresBackend(dsn string, dimensions int) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres connection")
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresBackend{db: db, dimensions: dimensions}, nil
}

func (b *PostgresBackend) Init(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "failed to reach postgres")
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS behavior_trigger (
			id TEXT PRIMARY KEY,
			behavior_id TEXT NOT NULL,
			trigger_text TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_ts BIGINT NOT NULL
		)`, b.dimensions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS conversation_embedding (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_ts BIGINT NOT NULL
		)`, b.dimensions),
		`CREATE INDEX IF NOT EXISTS idx_behavior_trigger_embedding
			ON behavior_trigger USING hnsw (embedding vector_cosine_ops)`,
	}

	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to provision pgvector schema")
		}
	}
	return nil
}

func (b *PostgresBackend) StoreTriggers(ctx context.Context, triggers []TriggerRecord) error {
	if len(triggers) == 0 {
		return nil
	}

	// One transaction per call: either every trigger is visible to
	// subsequent searches, or none are.
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt := `
		INSERT INTO behavior_trigger (id, behavior_id, trigger_text, embedding, metadata, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id)
		DO UPDATE SET
			behavior_id = EXCLUDED.behavior_id,
			trigger_text = EXCLUDED.trigger_text,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata
	`

	for _, trigger := range triggers {
		if len(trigger.Embedding) != b.dimensions {
			return fmt.Errorf("trigger %q embedding dimension mismatch: expected %d, got %d",
				trigger.BehaviorID, b.dimensions, len(trigger.Embedding))
		}
		id := trigger.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := trigger.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		metadata, err := encodeMetadata(trigger.Metadata)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, stmt,
			id,
			trigger.BehaviorID,
			trigger.TriggerText,
			pgvector.NewVector(trigger.Embedding),
			metadata,
			createdAt.Unix(),
		)
		if err != nil {
			return errors.Wrap(err, "failed to insert behavior trigger")
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit trigger batch")
}

func (b *PostgresBackend) StoreRecord(ctx context.Context, rec Record) error {
	if len(rec.Embedding) != b.dimensions {
		return fmt.Errorf("record embedding dimension mismatch: expected %d, got %d",
			b.dimensions, len(rec.Embedding))
	}

	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}

	stmt := `
		INSERT INTO conversation_embedding (id, content, embedding, metadata, created_ts)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = b.db.ExecContext(ctx, stmt,
		id,
		rec.Content,
		pgvector.NewVector(rec.Embedding),
		metadata,
		createdAt.Unix(),
	)
	return errors.Wrap(err, "failed to insert conversation embedding")
}

func (b *PostgresBackend) Search(ctx context.Context, query []float32, topK int) ([]SearchResult, error) {
	if len(query) != b.dimensions {
		return nil, fmt.Errorf("query embedding dimension mismatch: expected %d, got %d",
			b.dimensions, len(query))
	}
	if topK <= 0 {
		topK = 10
	}

	// The <=> operator computes cosine distance (1 - cosine_similarity),
	// so ordering by distance ASC yields most similar first.
	stmt := `
		SELECT id, behavior_id, trigger_text, metadata,
			1 - (embedding <=> $1) AS similarity
		FROM behavior_trigger
		ORDER BY embedding <=> $2, id
		LIMIT $3
	`

	vector := pgvector.NewVector(query)
	rows, err := b.db.QueryContext(ctx, stmt, vector, vector, topK)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute similarity search")
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var result SearchResult
		var metadata []byte
		if err := rows.Scan(&result.ID, &result.BehaviorID, &result.Content, &metadata, &result.Similarity); err != nil {
			return nil, errors.Wrap(err, "failed to scan search result")
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &result.Metadata); err != nil {
				return nil, errors.Wrap(err, "failed to decode trigger metadata")
			}
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

func (b *PostgresBackend) Clear(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, `TRUNCATE behavior_trigger, conversation_embedding`); err != nil {
		return errors.Wrap(err, "failed to clear vector store")
	}
	return nil
}

func (b *PostgresBackend) Stats(ctx context.Context) (BackendStats, error) {
	stats := BackendStats{Backend: b.Name()}

	row := b.db.QueryRowContext(ctx, `SELECT count(*) FROM behavior_trigger`)
	if err := row.Scan(&stats.TriggerCount); err != nil {
		return stats, errors.Wrap(err, "failed to count triggers")
	}
	row = b.db.QueryRowContext(ctx, `SELECT count(*) FROM conversation_embedding`)
	if err := row.Scan(&stats.RecordCount); err != nil {
		return stats, errors.Wrap(err, "failed to count conversation embeddings")
	}
	return stats, nil
}

func (b *PostgresBackend) Name() string {
	return "pgvector"
}

// Close releases the connection pool.
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

func encodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(metadata)
	return data, errors.Wrap(err, "failed to encode metadata")
}
