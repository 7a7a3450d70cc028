package unify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/client-sync/internal/db"
	"github.com/sells-group/client-sync/internal/model"
)

// activeStatuses are the states that hold the single-writer lock.
var activeStatuses = []string{
	string(model.RunRunning),
	string(model.RunContinuing),
	string(model.RunCompleting),
}

// Ledger persists sync run state: status, counters, and the resumable
// cursor. It doubles as the single-writer lock for job execution — run
// acquisition is a conditional insert that is safe to race.
type Ledger struct {
	pool db.Pool
	// StaleAfter is the checkpoint inactivity window after which an active
	// run is considered abandoned.
	StaleAfter time.Duration
}

// NewLedger creates a Ledger backed by the given pool.
func NewLedger(pool db.Pool, staleAfter time.Duration) *Ledger {
	if staleAfter <= 0 {
		staleAfter = 3 * time.Minute
	}
	return &Ledger{pool: pool, StaleAfter: staleAfter}
}

// Acquire cancels any stale run, then attempts to create a new run holding
// the single-writer lock. When a non-stale active run exists it returns that
// run with created=false. A cancelled stale run donates its cursor so the
// fresh run resumes instead of starting from scratch.
func (l *Ledger) Acquire(ctx context.Context, sources []model.Source) (run *model.SyncRun, created bool, err error) {
	log := zap.L().With(zap.String("component", "unify.ledger"))

	staleCursor, err := l.cancelStale(ctx)
	if err != nil {
		return nil, false, err
	}
	if staleCursor != nil {
		log.Warn("cancelled stale run, resuming from its cursor")
	}

	cursor := model.Cursor{}
	if staleCursor != nil {
		cursor = staleCursor
	}

	srcStrs := make([]string, len(sources))
	for i, s := range sources {
		srcStrs[i] = string(s)
	}
	cursorJSON, err := json.Marshal(cursor)
	if err != nil {
		return nil, false, eris.Wrap(err, "ledger: encode cursor")
	}

	id := uuid.NewString()
	// Conditional insert: only one active run may exist at a time. The
	// NOT EXISTS check handles the common case; the partial unique index
	// uq_sync_runs_active backstops concurrent acquisitions whose snapshots
	// both miss the other's uncommitted insert.
	var insertedID string
	err = l.pool.QueryRow(ctx,
		`INSERT INTO sync_runs (id, status, sources, counts, cursor)
		 SELECT $1, $2, $3, '{}', $4
		 WHERE NOT EXISTS (SELECT 1 FROM sync_runs WHERE status = ANY($5))
		 RETURNING id`,
		id, string(model.RunRunning), srcStrs, cursorJSON, activeStatuses,
	).Scan(&insertedID)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			existing, err := l.ActiveRun(ctx)
			if err != nil {
				return nil, false, err
			}
			if existing != nil {
				return existing, false, nil
			}
			// The competing run finished between our insert and re-read.
			return nil, false, eris.New("ledger: lost acquisition race, retry")
		}
		return nil, false, eris.Wrap(err, "ledger: acquire run")
	}

	newRun, err := l.Get(ctx, insertedID)
	if err != nil {
		return nil, false, err
	}
	return newRun, true, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// cancelStale flips abandoned active runs to cancelled and returns the most
// recent one's cursor, if any.
func (l *Ledger) cancelStale(ctx context.Context) (model.Cursor, error) {
	rows, err := l.pool.Query(ctx,
		`UPDATE sync_runs
		 SET status = $1, message = 'auto-cancelled: no checkpoint within staleness window',
		     completed_at = now(), updated_at = now()
		 WHERE status = ANY($2) AND updated_at < now() - $3::interval
		 RETURNING cursor`,
		string(model.RunCancelled), activeStatuses, l.StaleAfter.String(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: cancel stale runs")
	}
	defer rows.Close()

	var cursor model.Cursor
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "ledger: scan stale cursor")
		}
		if len(raw) > 0 {
			cursor = model.Cursor{}
			if err := json.Unmarshal(raw, &cursor); err != nil {
				return nil, eris.Wrap(err, "ledger: decode stale cursor")
			}
		}
	}
	return cursor, rows.Err()
}

const selectRunCols = `id, status, sources, counts, cursor, chunk, message, started_at, updated_at, completed_at`

// Get loads one run by id.
func (l *Ledger) Get(ctx context.Context, id string) (*model.SyncRun, error) {
	run, err := l.scanRun(l.pool.QueryRow(ctx,
		"SELECT "+selectRunCols+" FROM sync_runs WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("ledger: run %s not found", id)
		}
		return nil, eris.Wrapf(err, "ledger: get run %s", id)
	}
	return run, nil
}

// ActiveRun returns the current lock-holding run, or nil.
func (l *Ledger) ActiveRun(ctx context.Context) (*model.SyncRun, error) {
	run, err := l.scanRun(l.pool.QueryRow(ctx,
		"SELECT "+selectRunCols+` FROM sync_runs WHERE status = ANY($1)
		 ORDER BY started_at DESC LIMIT 1`, activeStatuses))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "ledger: get active run")
	}
	return run, nil
}

// List returns the most recent runs, newest first.
func (l *Ledger) List(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.pool.Query(ctx,
		"SELECT "+selectRunCols+" FROM sync_runs ORDER BY started_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list runs")
	}
	defer rows.Close()

	var out []model.SyncRun
	for rows.Next() {
		run, err := l.scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "ledger: scan run")
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// Checkpoint persists the run's counters, cursor, chunk, status, and message
// and refreshes the staleness clock. Called after every loop iteration.
func (l *Ledger) Checkpoint(ctx context.Context, run *model.SyncRun) error {
	countsJSON, err := json.Marshal(run.Counts)
	if err != nil {
		return eris.Wrap(err, "ledger: encode counts")
	}
	cursorJSON, err := json.Marshal(run.Cursor)
	if err != nil {
		return eris.Wrap(err, "ledger: encode cursor")
	}

	var completedAt any
	if run.Status.Terminal() && run.Status != model.RunPaused {
		completedAt = time.Now().UTC()
	}

	_, err = l.pool.Exec(ctx,
		`UPDATE sync_runs
		 SET status = $2, counts = $3, cursor = $4, chunk = $5, message = $6,
		     updated_at = now(), completed_at = COALESCE($7, completed_at)
		 WHERE id = $1`,
		run.ID, string(run.Status), countsJSON, cursorJSON, run.Chunk, run.Message, completedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: checkpoint run %s", run.ID)
	}
	return nil
}

// Status reads just the current status of a run, used by the cooperative
// cancellation poll.
func (l *Ledger) Status(ctx context.Context, id string) (model.RunStatus, error) {
	var s string
	if err := l.pool.QueryRow(ctx,
		"SELECT status FROM sync_runs WHERE id = $1", id).Scan(&s); err != nil {
		return "", eris.Wrapf(err, "ledger: read status for run %s", id)
	}
	return model.RunStatus(s), nil
}

// SetStatus updates a run's status and message.
func (l *Ledger) SetStatus(ctx context.Context, id string, status model.RunStatus, message string) error {
	var completedAt any
	if status.Terminal() && status != model.RunPaused {
		completedAt = time.Now().UTC()
	}
	_, err := l.pool.Exec(ctx,
		`UPDATE sync_runs
		 SET status = $2, message = $3, updated_at = now(),
		     completed_at = COALESCE($4, completed_at)
		 WHERE id = $1`,
		id, string(status), message, completedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: set status for run %s", id)
	}
	return nil
}

// Claim atomically flips a continuing run to running so exactly one
// invocation executes each chained chunk. Returns false when the run is not
// in continuing state, which covers a duplicate continuation delivery whose
// first copy already claimed the chunk.
func (l *Ledger) Claim(ctx context.Context, id string) (bool, error) {
	tag, err := l.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = $3`,
		id, string(model.RunRunning), string(model.RunContinuing),
	)
	if err != nil {
		return false, eris.Wrapf(err, "ledger: claim run %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

// Resume flips a paused run back to continuing so a new chunk may pick it
// up.
func (l *Ledger) Resume(ctx context.Context, id string) error {
	tag, err := l.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $2, message = '', updated_at = now()
		 WHERE id = $1 AND status = $3`,
		id, string(model.RunContinuing), string(model.RunPaused),
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: resume run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ledger: run %s is not paused", id)
	}
	return nil
}

// ForceCancel flips every non-terminal run to cancelled. In-flight loops
// observe this on their next poll and stop within one iteration.
func (l *Ledger) ForceCancel(ctx context.Context) (int64, error) {
	tag, err := l.pool.Exec(ctx,
		`UPDATE sync_runs
		 SET status = $1, message = 'force-cancelled by operator',
		     completed_at = now(), updated_at = now()
		 WHERE status = ANY($2) OR status = $3`,
		string(model.RunCancelled), activeStatuses, string(model.RunPaused),
	)
	if err != nil {
		return 0, eris.Wrap(err, "ledger: force cancel")
	}
	return tag.RowsAffected(), nil
}

// scanRun reads one run row in selectRunCols order.
func (l *Ledger) scanRun(row pgx.Row) (*model.SyncRun, error) {
	var (
		run        model.SyncRun
		status     string
		sources    []string
		countsRaw  []byte
		cursorRaw  []byte
		completed  *time.Time
	)
	err := row.Scan(&run.ID, &status, &sources, &countsRaw, &cursorRaw,
		&run.Chunk, &run.Message, &run.StartedAt, &run.UpdatedAt, &completed)
	if err != nil {
		return nil, err
	}

	run.Status = model.RunStatus(status)
	for _, s := range sources {
		run.Sources = append(run.Sources, model.Source(s))
	}
	run.Counts = make(map[model.Source]model.SourceCounts)
	if len(countsRaw) > 0 {
		if err := json.Unmarshal(countsRaw, &run.Counts); err != nil {
			return nil, eris.Wrap(err, "ledger: decode counts")
		}
	}
	run.Cursor = model.Cursor{}
	if len(cursorRaw) > 0 {
		if err := json.Unmarshal(cursorRaw, &run.Cursor); err != nil {
			return nil, eris.Wrap(err, "ledger: decode cursor")
		}
	}
	run.CompletedAt = completed
	return &run, nil
}
