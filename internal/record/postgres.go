package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vigil/internal/event"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/sentinel"
)

// PostgresStore implements Store on PostgreSQL. Inserts rely on the
// (event_id, version) primary key with ON CONFLICT DO NOTHING, which makes
// redelivered events idempotent without read-modify-write races.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS normalized_records (
	event_id        uuid             NOT NULL,
	version         int              NOT NULL,
	source          text             NOT NULL,
	event_timestamp timestamptz      NOT NULL,
	vector          double precision[] NOT NULL,
	status          text             NOT NULL,
	score           double precision,
	threshold       double precision,
	decision        text,
	created_at      timestamptz      NOT NULL DEFAULT now(),
	PRIMARY KEY (event_id, version)
)`

// EnsureSchema creates the backing table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure normalized_records schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, e event.AuditEvent, rec event.NormalizedRecord) error {
	query := `
		INSERT INTO normalized_records (event_id, version, source, event_timestamp, vector, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id, version) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(rec.EventID),
		rec.Version,
		e.Source,
		e.Timestamp,
		pq.Array(rec.Vector),
		string(e.Status),
		rec.CreatedAt,
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "insert normalized record")
	}
	return nil
}

func (s *PostgresStore) AttachScore(ctx context.Context, score event.AnomalyScore, version int) error {
	query := `
		UPDATE normalized_records
		SET score = $1, threshold = $2, decision = $3, status = $6
		WHERE event_id = $4 AND version = $5
	`
	res, err := s.db.ExecContext(ctx, query,
		score.Score,
		score.Threshold,
		string(score.Decision),
		uuid.UUID(score.EventID),
		version,
		string(event.StatusScored),
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "attach score")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("attach score %s v%d: %w", score.EventID, version, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, eventID id.EventID, version int, status event.Status) error {
	query := `UPDATE normalized_records SET status = $1 WHERE event_id = $2 AND version = $3`
	res, err := s.db.ExecContext(ctx, query, string(status), uuid.UUID(eventID), version)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "set status")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("set status %s v%d: %w", eventID, version, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, eventID id.EventID) (*StoredRecord, error) {
	rows, err := s.queryVersions(ctx, eventID, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("record %s: %w", eventID, sentinel.ErrNotFound)
	}
	return rows[0], nil
}

func (s *PostgresStore) Versions(ctx context.Context, eventID id.EventID) ([]*StoredRecord, error) {
	return s.queryVersions(ctx, eventID, 0)
}

func (s *PostgresStore) queryVersions(ctx context.Context, eventID id.EventID, limit int) ([]*StoredRecord, error) {
	query := `
		SELECT event_id, version, source, event_timestamp, vector, status, score, threshold, decision, created_at
		FROM normalized_records
		WHERE event_id = $1
		ORDER BY version DESC
	`
	args := []any{uuid.UUID(eventID)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "query normalized records")
	}
	defer rows.Close()

	var records []*StoredRecord
	for rows.Next() {
		var (
			sr        StoredRecord
			eid       uuid.UUID
			vector    pq.Float64Array
			status    string
			score     sql.NullFloat64
			threshold sql.NullFloat64
			decision  sql.NullString
		)
		err := rows.Scan(
			&eid,
			&sr.Record.Version,
			&sr.Source,
			&sr.EventTimestamp,
			&vector,
			&status,
			&score,
			&threshold,
			&decision,
			&sr.Record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan normalized record: %w", err)
		}
		sr.Record.EventID = id.EventID(eid)
		sr.Record.Vector = []float64(vector)
		sr.Status = event.Status(status)
		if score.Valid && decision.Valid {
			sr.Score = &event.AnomalyScore{
				EventID:   sr.Record.EventID,
				Score:     score.Float64,
				Threshold: threshold.Float64,
				Decision:  event.Decision(decision.String),
			}
		}
		records = append(records, &sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate normalized records: %w", err)
	}
	return records, nil
}

// IsNotFound reports whether err is a store miss.
func IsNotFound(err error) bool {
	return errors.Is(err, sentinel.ErrNotFound)
}
