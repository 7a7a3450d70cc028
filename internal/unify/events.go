package unify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/client-sync/internal/db"
	"github.com/sells-group/client-sync/internal/model"
)

// EventLog appends audit lead events for every create or update, keyed by an
// idempotency token so source-event replays short-circuit to a no-op.
type EventLog struct {
	pool db.Pool
}

// NewEventLog creates an EventLog backed by the given pool.
func NewEventLog(pool db.Pool) *EventLog {
	return &EventLog{pool: pool}
}

// Seen reports whether an idempotency key has already been recorded for a
// source. Callers check this before any write so duplicates skip cleanly.
func (e *EventLog) Seen(ctx context.Context, source model.Source, key string) (bool, error) {
	var exists bool
	err := e.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lead_events WHERE source = $1 AND idempotency_key = $2)`,
		string(source), key,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "unify: check lead event for %s", source)
	}
	return exists, nil
}

// Append records one lead event. The (source, idempotency_key) unique
// constraint makes concurrent replays collapse to a single row.
func (e *EventLog) Append(ctx context.Context, clientID string, source model.Source, action model.EventAction, key string) error {
	_, err := e.pool.Exec(ctx,
		`INSERT INTO lead_events (id, client_id, source, action, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (source, idempotency_key) DO NOTHING`,
		uuid.NewString(), clientID, string(source), string(action), key,
	)
	if err != nil {
		return eris.Wrapf(err, "unify: append lead event for client %s", clientID)
	}
	return nil
}
