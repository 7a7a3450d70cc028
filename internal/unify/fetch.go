package unify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/client-sync/internal/db"
	"github.com/sells-group/client-sync/internal/model"
)

// Fetcher pulls ordered slices of unprocessed raw records from the staging
// tables using a monotonic id cursor, and writes the processed marker back.
type Fetcher struct {
	pool db.Pool
}

// NewFetcher creates a Fetcher backed by the given pool.
func NewFetcher(pool db.Pool) *Fetcher {
	return &Fetcher{pool: pool}
}

const fetchCRMSQL = `SELECT id, external_id, payload, arrived_at
	 FROM staging.crm_contacts
	 WHERE processed_at IS NULL AND id > $1
	 ORDER BY id LIMIT $2`

const fetchChatSQL = `SELECT id, subscriber_id, payload, arrived_at
	 FROM staging.chat_subscribers
	 WHERE processed_at IS NULL AND id > $1
	 ORDER BY id LIMIT $2`

const fetchSheetSQL = `SELECT id, email, phone, full_name, raw_data, arrived_at
	 FROM staging.sheet_imports
	 WHERE processing_status IN ('staged', 'pending') AND id > $1
	 ORDER BY id LIMIT $2`

// FetchBatch returns the next batch of unprocessed rows for a source with
// staging id greater than the cursor, in arrival order. Rows already marked
// processed are never selected.
func (f *Fetcher) FetchBatch(ctx context.Context, source model.Source, after int64, limit int) ([]model.RawRecord, error) {
	switch source {
	case model.SourceCRM:
		return f.fetchPayloadRows(ctx, source, fetchCRMSQL, after, limit)
	case model.SourceChat:
		return f.fetchPayloadRows(ctx, source, fetchChatSQL, after, limit)
	case model.SourceSheet:
		return f.fetchSheetRows(ctx, after, limit)
	default:
		return nil, eris.Errorf("unify: unknown source %q", source)
	}
}

func (f *Fetcher) fetchPayloadRows(ctx context.Context, source model.Source, sql string, after int64, limit int) ([]model.RawRecord, error) {
	rows, err := f.pool.Query(ctx, sql, after, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "unify: fetch batch for %s", source)
	}
	defer rows.Close()

	var out []model.RawRecord
	for rows.Next() {
		var (
			rec        model.RawRecord
			payloadRaw []byte
		)
		if err := rows.Scan(&rec.ID, &rec.ExternalID, &payloadRaw, &rec.ArrivedAt); err != nil {
			return nil, eris.Wrapf(err, "unify: scan raw row for %s", source)
		}
		rec.Source = source
		rec.Payload = map[string]any{}
		if len(payloadRaw) > 0 {
			if err := json.Unmarshal(payloadRaw, &rec.Payload); err != nil {
				return nil, eris.Wrapf(err, "unify: decode payload for %s row %d", source, rec.ID)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// fetchSheetRows folds the spreadsheet table's explicit columns into the
// payload map so downstream normalization is source-agnostic.
func (f *Fetcher) fetchSheetRows(ctx context.Context, after int64, limit int) ([]model.RawRecord, error) {
	rows, err := f.pool.Query(ctx, fetchSheetSQL, after, limit)
	if err != nil {
		return nil, eris.Wrap(err, "unify: fetch batch for sheet")
	}
	defer rows.Close()

	var out []model.RawRecord
	for rows.Next() {
		var (
			rec                    model.RawRecord
			email, phone, fullName *string
			rawData                []byte
		)
		if err := rows.Scan(&rec.ID, &email, &phone, &fullName, &rawData, &rec.ArrivedAt); err != nil {
			return nil, eris.Wrap(err, "unify: scan sheet row")
		}
		rec.Source = model.SourceSheet

		payload := map[string]any{}
		if len(rawData) > 0 {
			if err := json.Unmarshal(rawData, &payload); err != nil {
				return nil, eris.Wrapf(err, "unify: decode raw_data for sheet row %d", rec.ID)
			}
		}
		// Explicit columns win over whatever the raw bag carries.
		if email != nil && *email != "" {
			payload["email"] = *email
		}
		if phone != nil && *phone != "" {
			payload["phone"] = *phone
		}
		if fullName != nil && *fullName != "" {
			payload["full_name"] = *fullName
		}
		rec.Payload = payload
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkProcessed sets the processed marker on the given staging rows. A row
// with a non-null marker is never selected again.
func (f *Fetcher) MarkProcessed(ctx context.Context, source model.Source, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	now := time.Now().UTC()
	var sql string
	var args []any
	switch source {
	case model.SourceCRM:
		sql = `UPDATE staging.crm_contacts SET processed_at = $1 WHERE id = ANY($2) AND processed_at IS NULL`
		args = []any{now, ids}
	case model.SourceChat:
		sql = `UPDATE staging.chat_subscribers SET processed_at = $1 WHERE id = ANY($2) AND processed_at IS NULL`
		args = []any{now, ids}
	case model.SourceSheet:
		sql = `UPDATE staging.sheet_imports SET processing_status = 'processed' WHERE id = ANY($1) AND processing_status IN ('staged', 'pending')`
		args = []any{ids}
	default:
		return eris.Errorf("unify: unknown source %q", source)
	}

	if _, err := f.pool.Exec(ctx, sql, args...); err != nil {
		return eris.Wrapf(err, "unify: mark processed for %s", source)
	}
	return nil
}
