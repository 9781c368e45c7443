package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"vigil/internal/event"
)

// ClickHouse archives raw payloads into an append-only MergeTree table.
// Column-oriented storage keeps years of cold payloads cheap to hold and
// scan, which is all the archive is for.
type ClickHouse struct {
	db *sql.DB
}

// Connect opens a ClickHouse handle and verifies it with a short ping retry
// loop, since the server may still be warming up when the pipeline starts.
func Connect(dsn string) (*ClickHouse, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(time.Hour)

	for attempt := 0; attempt < 5; attempt++ {
		if err = db.Ping(); err == nil {
			return &ClickHouse{db: db}, nil
		}
		time.Sleep(2 * time.Second)
	}
	db.Close()
	return nil, fmt.Errorf("ping clickhouse after retries: %w", err)
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS raw_events (
	event_id        UUID,
	source          String,
	event_timestamp DateTime64(3),
	payload         String,
	archived_at     DateTime64(3) DEFAULT now64(3)
)
ENGINE = MergeTree()
ORDER BY (source, event_timestamp)`

// EnsureSchema creates the archive table when it does not exist yet.
func (c *ClickHouse) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, archiveSchema); err != nil {
		return fmt.Errorf("ensure raw_events schema: %w", err)
	}
	return nil
}

func (c *ClickHouse) Archive(ctx context.Context, e event.AuditEvent) error {
	query := `INSERT INTO raw_events (event_id, source, event_timestamp, payload) VALUES (?, ?, ?, ?)`
	_, err := c.db.ExecContext(ctx, query,
		e.ID.String(),
		e.Source,
		e.Timestamp,
		string(e.Payload),
	)
	if err != nil {
		return fmt.Errorf("archive event %s: %w", e.ID, err)
	}
	return nil
}

// Close releases the connection pool.
func (c *ClickHouse) Close() error {
	return c.db.Close()
}
