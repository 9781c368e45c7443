package alert

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"vigil/internal/event"
	id "vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/sentinel"
)

// PostgresStore implements Store on PostgreSQL. The event_id unique
// constraint backs up the deduper: even if dedup state is lost, a second
// insert for the same event id is dropped, not duplicated.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id           uuid        PRIMARY KEY,
	event_id     uuid        NOT NULL UNIQUE,
	source       text        NOT NULL,
	score        double precision NOT NULL,
	summary      text        NOT NULL,
	generated_at timestamptz NOT NULL,
	delivery     text        NOT NULL
)`

// EnsureSchema creates the backing table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure alerts schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, a event.Alert) error {
	query := `
		INSERT INTO alerts (id, event_id, source, score, summary, generated_at, delivery)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(a.ID),
		uuid.UUID(a.EventID),
		a.Source,
		a.Score,
		a.Summary,
		a.GeneratedAt,
		string(a.Delivery),
	)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "insert alert")
	}
	return nil
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, a event.Alert) error {
	query := `UPDATE alerts SET delivery = $1 WHERE id = $2`
	res, err := s.db.ExecContext(ctx, query, string(event.DeliveryDelivered), uuid.UUID(a.ID))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "mark alert delivered")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("alert %s: %w", a.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, q Query) ([]*event.Alert, error) {
	query := `
		SELECT id, event_id, source, score, summary, generated_at, delivery
		FROM alerts
		WHERE ($1 = '' OR source = $1)
		  AND ($2::timestamptz IS NULL OR generated_at >= $2)
		  AND ($3::timestamptz IS NULL OR generated_at <= $3)
		ORDER BY generated_at DESC
		LIMIT $4
	`
	limit := q.Limit
	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	var from, to any
	if !q.From.IsZero() {
		from = q.From
	}
	if !q.To.IsZero() {
		to = q.To
	}

	rows, err := s.db.QueryContext(ctx, query, q.Source, from, to, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "query alerts")
	}
	defer rows.Close()

	var alerts []*event.Alert
	for rows.Next() {
		var (
			a        event.Alert
			aid, eid uuid.UUID
			delivery string
		)
		if err := rows.Scan(&aid, &eid, &a.Source, &a.Score, &a.Summary, &a.GeneratedAt, &delivery); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.ID = id.AlertID(aid)
		a.EventID = id.EventID(eid)
		a.Delivery = event.DeliveryStatus(delivery)
		alerts = append(alerts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}
