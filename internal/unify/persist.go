package unify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/client-sync/internal/db"
	"github.com/sells-group/client-sync/internal/model"
	"github.com/sells-group/client-sync/internal/normalize"
	"github.com/sells-group/client-sync/internal/resilience"
)

// Mutation is one resolved merge outcome awaiting persistence.
type Mutation struct {
	Client *model.Client
	Action model.EventAction
	Rec    *normalize.Record
}

// PersistResult reports what a persistence pass accomplished. Succeeded
// mutations feed the audit event log and the processed markers; failures are
// counted, never escalated.
type PersistResult struct {
	Created   int64
	Updated   int64
	Errors    int64
	Succeeded []*Mutation
}

// Persister writes merged clients in small fixed-size micro-batches to bound
// the blast radius of a single failure. Each micro-batch is retried once
// after a short delay, then replayed record-by-record so one bad record
// cannot blank out an otherwise-valid batch.
type Persister struct {
	pool      db.Pool
	batchSize int
	limiter   *rate.Limiter
}

// NewPersister creates a Persister. writesPerSecond <= 0 disables pacing.
func NewPersister(pool db.Pool, batchSize int, writesPerSecond float64) *Persister {
	if batchSize <= 0 {
		batchSize = 25
	}
	var limiter *rate.Limiter
	if writesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(writesPerSecond), batchSize)
	}
	return &Persister{pool: pool, batchSize: batchSize, limiter: limiter}
}

// Persist writes all mutations in micro-batches.
func (p *Persister) Persist(ctx context.Context, muts []*Mutation) (*PersistResult, error) {
	log := zap.L().With(zap.String("component", "unify.persist"))
	result := &PersistResult{}

	for start := 0; start < len(muts); start += p.batchSize {
		end := min(start+p.batchSize, len(muts))
		batch := muts[start:end]

		if p.limiter != nil {
			if err := p.limiter.WaitN(ctx, len(batch)); err != nil {
				return result, eris.Wrap(err, "unify: persist rate limit wait")
			}
		}

		err := resilience.Do(ctx, resilience.WriteRetryConfig(), func(ctx context.Context) error {
			return p.writeBatch(ctx, batch)
		})
		if err == nil {
			tally(result, batch)
			continue
		}

		log.Warn("micro-batch write failed, replaying record-by-record",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)

		// Per-record fallback: isolate the poisoned record(s).
		for _, mut := range batch {
			if err := p.writeOne(ctx, mut); err != nil {
				result.Errors++
				log.Error("record write failed",
					zap.String("source", string(mut.Rec.Source)),
					zap.Int64("raw_id", mut.Rec.RawID),
					zap.Error(err),
				)
				continue
			}
			tally(result, []*Mutation{mut})
		}
	}

	return result, nil
}

func tally(result *PersistResult, batch []*Mutation) {
	for _, mut := range batch {
		if mut.Action == model.ActionCreated {
			result.Created++
		} else {
			result.Updated++
		}
		result.Succeeded = append(result.Succeeded, mut)
	}
}

// writeBatch persists one micro-batch: updates by id, email-keyed creates
// via upsert-on-conflict, and phone-only creates via a bulk phone check
// split into update-existing vs insert-new sets.
func (p *Persister) writeBatch(ctx context.Context, batch []*Mutation) error {
	now := time.Now().UTC()

	var updates []*Mutation
	var emailCreates []*Mutation
	var phoneCreates []*Mutation

	for _, mut := range batch {
		switch {
		case mut.Action == model.ActionUpdated:
			updates = append(updates, mut)
		case mut.Client.Email != "":
			emailCreates = append(emailCreates, mut)
		default:
			phoneCreates = append(phoneCreates, mut)
		}
	}

	for _, mut := range updates {
		if err := p.updateClient(ctx, mut.Client, now); err != nil {
			return err
		}
	}

	if len(emailCreates) > 0 {
		rows := make([][]any, 0, len(emailCreates))
		for _, mut := range emailCreates {
			row, err := clientRow(mut.Client, now)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		// On conflict only identifier columns are refreshed: a concurrent
		// writer's name, tags, and metadata survive the race.
		_, err := db.BulkUpsert(ctx, p.pool, db.UpsertConfig{
			Table:        "clients",
			Columns:      clientColumns,
			ConflictKeys: []string{"email"},
			UpdateCols:   []string{"phone", "crm_id", "chat_id", "payment_id", "last_sync_at", "updated_at"},
		}, rows)
		if err != nil {
			return err
		}
	}

	if len(phoneCreates) > 0 {
		if err := p.writePhoneOnly(ctx, phoneCreates, now); err != nil {
			return err
		}
	}

	return nil
}

// writePhoneOnly handles rows whose only identity key is a phone number.
// Phone has no unique constraint, so existing phones are checked in bulk
// (one lookup for the whole set) before splitting into update vs insert.
func (p *Persister) writePhoneOnly(ctx context.Context, muts []*Mutation, now time.Time) error {
	phones := make([]string, 0, len(muts))
	for _, mut := range muts {
		phones = append(phones, mut.Client.Phone)
	}

	existing, err := p.clientsByPhone(ctx, phones)
	if err != nil {
		return err
	}

	var inserts [][]any
	for _, mut := range muts {
		if prior, ok := existing[mut.Client.Phone]; ok {
			merged, changed := MergeInto(prior, mut.Rec, now)
			if changed {
				if err := p.updateClient(ctx, merged, now); err != nil {
					return err
				}
			}
			continue
		}
		row, err := clientRow(mut.Client, now)
		if err != nil {
			return err
		}
		inserts = append(inserts, row)
	}

	if len(inserts) > 0 {
		if _, err := db.CopyFrom(ctx, p.pool, "clients", clientColumns, inserts); err != nil {
			return err
		}
	}
	return nil
}

// clientsByPhone bulk-fetches existing clients keyed by phone.
func (p *Persister) clientsByPhone(ctx context.Context, phones []string) (map[string]*model.Client, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT "+selectClientCols+" FROM clients WHERE phone = ANY($1)", phones)
	if err != nil {
		return nil, eris.Wrap(err, "unify: bulk phone lookup")
	}
	defer rows.Close()

	out := make(map[string]*model.Client)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, eris.Wrap(err, "unify: scan phone lookup row")
		}
		if _, seen := out[c.Phone]; !seen {
			out[c.Phone] = c
		}
	}
	return out, rows.Err()
}

const updateClientSQL = `UPDATE clients SET
	email = $2, phone = $3, full_name = $4,
	crm_id = $5, chat_id = $6, payment_id = $7,
	tags = $8, opt_in_email = $9, opt_in_sms = $10, opt_in_whatsapp = $11,
	stage = $12, first_source = $13, campaign = $14, metadata = $15,
	last_sync_at = $16, updated_at = $16
	WHERE id = $1`

// updateClient writes the full merged state of one existing client.
func (p *Persister) updateClient(ctx context.Context, c *model.Client, now time.Time) error {
	metaJSON, err := json.Marshal(orEmptyMap(c.Metadata))
	if err != nil {
		return eris.Wrapf(err, "unify: encode metadata for client %s", c.ID)
	}

	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err = p.pool.Exec(ctx, updateClientSQL,
		c.ID, nullable(c.Email), nullable(c.Phone), c.FullName,
		nullable(c.CRMID), nullable(c.ChatID), nullable(c.PaymentID),
		tags, c.OptIns.Email, c.OptIns.SMS, c.OptIns.WhatsApp,
		string(c.Stage), nullable(c.FirstSource), nullable(c.Campaign), metaJSON,
		now,
	)
	if err != nil {
		return eris.Wrapf(err, "unify: update client %s", c.ID)
	}
	return nil
}

// writeOne persists a single mutation, used by the per-record fallback.
func (p *Persister) writeOne(ctx context.Context, mut *Mutation) error {
	return p.writeBatch(ctx, []*Mutation{mut})
}
