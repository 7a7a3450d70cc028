package unify

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/client-sync/internal/db"
	"github.com/sells-group/client-sync/internal/model"
	"github.com/sells-group/client-sync/internal/normalize"
)

// ResolutionKind classifies what the resolver decided for one record.
type ResolutionKind int

const (
	// ResolveCreate means no existing canonical client matched.
	ResolveCreate ResolutionKind = iota
	// ResolveUpdate means exactly one canonical client matched.
	ResolveUpdate
	// ResolveConflict means two independent identifiers matched two
	// different canonical clients. The record is never auto-merged.
	ResolveConflict
)

// Resolution is the resolver's verdict for one normalized record.
type Resolution struct {
	Kind     ResolutionKind
	Existing *model.Client // set for ResolveUpdate
	// ConflictA and ConflictB are the two clients matched by independent
	// keys, set for ResolveConflict.
	ConflictA *model.Client
	ConflictB *model.Client
}

// Resolver locates existing canonical clients for normalized records in
// strict key priority order: platform id, email, phone, secondary platform
// id. Platform-id and email lookups are evaluated independently so a
// disagreement between them is detected as a conflict rather than resolved
// by lookup order.
type Resolver struct {
	pool db.Pool
}

// NewResolver creates a Resolver backed by the given pool.
func NewResolver(pool db.Pool) *Resolver {
	return &Resolver{pool: pool}
}

// Resolve returns the canonical client decision for one normalized record.
func (r *Resolver) Resolve(ctx context.Context, rec *normalize.Record) (*Resolution, error) {
	platformCol, platformID := primaryPlatformKey(rec)

	var byPlatform, byEmail *model.Client
	var err error

	if platformID != "" {
		byPlatform, err = r.lookup(ctx, platformCol, platformID)
		if err != nil {
			return nil, err
		}
	}
	if rec.Email != "" {
		byEmail, err = r.lookup(ctx, "email", rec.Email)
		if err != nil {
			return nil, err
		}
	}

	// Both keys matched different rows: do not guess which is correct.
	if byPlatform != nil && byEmail != nil && byPlatform.ID != byEmail.ID {
		return &Resolution{Kind: ResolveConflict, ConflictA: byPlatform, ConflictB: byEmail}, nil
	}

	if byPlatform != nil {
		return &Resolution{Kind: ResolveUpdate, Existing: byPlatform}, nil
	}
	if byEmail != nil {
		return &Resolution{Kind: ResolveUpdate, Existing: byEmail}, nil
	}

	if rec.Phone != "" {
		byPhone, err := r.lookup(ctx, "phone", rec.Phone)
		if err != nil {
			return nil, err
		}
		if byPhone != nil {
			return &Resolution{Kind: ResolveUpdate, Existing: byPhone}, nil
		}
	}

	// Secondary platform id: e.g. a chat-platform subscriber id carried by
	// a CRM payload.
	if col, id := secondaryPlatformKey(rec); id != "" {
		bySecondary, err := r.lookup(ctx, col, id)
		if err != nil {
			return nil, err
		}
		if bySecondary != nil {
			return &Resolution{Kind: ResolveUpdate, Existing: bySecondary}, nil
		}
	}

	return &Resolution{Kind: ResolveCreate}, nil
}

// lookup fetches at most one client by an exact key match. Returns nil when
// no row matches.
func (r *Resolver) lookup(ctx context.Context, column, value string) (*model.Client, error) {
	sql := "SELECT " + selectClientCols + " FROM clients WHERE " + column + " = $1 LIMIT 1"
	c, err := scanClient(r.pool.QueryRow(ctx, sql, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "unify: lookup client by %s", column)
	}
	return c, nil
}

// primaryPlatformKey returns the client column and value for the record's
// own source identifier.
func primaryPlatformKey(rec *normalize.Record) (string, string) {
	switch rec.Source {
	case model.SourceCRM:
		return "crm_id", rec.CRMID
	case model.SourceChat:
		return "chat_id", rec.ChatID
	default:
		// Spreadsheet rows have no platform id of their own; a carried CRM
		// id is the closest equivalent.
		return "crm_id", rec.CRMID
	}
}

// secondaryPlatformKey returns a cross-source identifier carried by the
// payload, tried only after email and phone fail.
func secondaryPlatformKey(rec *normalize.Record) (string, string) {
	switch rec.Source {
	case model.SourceCRM:
		return "chat_id", rec.ChatID
	case model.SourceChat:
		return "crm_id", rec.CRMID
	default:
		return "chat_id", rec.ChatID
	}
}
