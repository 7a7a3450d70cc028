package unify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/client-sync/internal/db"
	"github.com/sells-group/client-sync/internal/model"
	"github.com/sells-group/client-sync/internal/normalize"
)

// ConflictLog surfaces identity conflicts for manual operator review. A
// conflicting record is recorded and consumed; neither matched client is
// modified.
type ConflictLog struct {
	pool db.Pool
}

// NewConflictLog creates a ConflictLog backed by the given pool.
func NewConflictLog(pool db.Pool) *ConflictLog {
	return &ConflictLog{pool: pool}
}

// Record persists one conflict: the record's keys and the two canonical
// clients they independently matched.
func (c *ConflictLog) Record(ctx context.Context, rec *normalize.Record, a, b *model.Client) error {
	_, platformID := primaryPlatformKey(rec)

	_, err := c.pool.Exec(ctx,
		`INSERT INTO identity_conflicts (id, source, raw_id, email, platform_id, client_a, client_b)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), string(rec.Source), rec.RawID,
		nullable(rec.Email), nullable(platformID), a.ID, b.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "unify: record conflict for %s row %d", rec.Source, rec.RawID)
	}

	zap.L().Warn("identity conflict detected",
		zap.String("source", string(rec.Source)),
		zap.Int64("raw_id", rec.RawID),
		zap.String("client_a", a.ID),
		zap.String("client_b", b.ID),
	)
	return nil
}
