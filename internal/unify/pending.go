package unify

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/client-sync/internal/db"
	"github.com/sells-group/client-sync/internal/model"
)

// pendingSQL counts unresolved raw records per source. CRM and chat rows are
// pending until processed_at is set; spreadsheet rows until their status
// leaves staged/pending.
var pendingSQL = map[model.Source]string{
	model.SourceCRM:   `SELECT count(*) FROM staging.crm_contacts WHERE processed_at IS NULL`,
	model.SourceChat:  `SELECT count(*) FROM staging.chat_subscribers WHERE processed_at IS NULL`,
	model.SourceSheet: `SELECT count(*) FROM staging.sheet_imports WHERE processing_status IN ('staged', 'pending')`,
}

// PendingCounts returns, per source, the number of raw records awaiting
// unification. This is the ground truth for job sizing and completion
// detection; batch-level zero counts are ambiguous without it.
func PendingCounts(ctx context.Context, pool db.Pool, sources []model.Source) (map[model.Source]int64, error) {
	counts := make(map[model.Source]int64, len(sources))
	for _, src := range sources {
		sql, ok := pendingSQL[src]
		if !ok {
			return nil, eris.Errorf("unify: no pending query for source %q", src)
		}
		var n int64
		if err := pool.QueryRow(ctx, sql).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "unify: count pending for %s", src)
		}
		counts[src] = n
	}
	return counts, nil
}

// TotalPending sums a pending-count map.
func TotalPending(counts map[model.Source]int64) int64 {
	var total int64
	for _, n := range counts {
		total += n
	}
	return total
}
