package unify

import (
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/client-sync/internal/model"
)

// clientColumns is the canonical column order used by every client read and
// bulk write in this package.
var clientColumns = []string{
	"id", "email", "phone", "full_name",
	"crm_id", "chat_id", "payment_id",
	"tags", "opt_in_email", "opt_in_sms", "opt_in_whatsapp",
	"stage", "first_source", "campaign", "metadata",
	"last_sync_at", "updated_at",
}

const selectClientCols = `id, email, phone, full_name,
	crm_id, chat_id, payment_id,
	tags, opt_in_email, opt_in_sms, opt_in_whatsapp,
	stage, total_spend, first_source, campaign, metadata, last_sync_at`

// scanClient reads one client row in selectClientCols order. Nullable text
// columns come back as pointers and are folded into empty strings.
func scanClient(row pgx.Row) (*model.Client, error) {
	var (
		c                               model.Client
		email, phone, crm, chat, pay    *string
		firstSource, campaign, fullName *string
		metaRaw                         []byte
	)
	err := row.Scan(
		&c.ID, &email, &phone, &fullName,
		&crm, &chat, &pay,
		&c.Tags, &c.OptIns.Email, &c.OptIns.SMS, &c.OptIns.WhatsApp,
		&c.Stage, &c.TotalSpend, &firstSource, &campaign, &metaRaw, &c.LastSyncAt,
	)
	if err != nil {
		return nil, err
	}

	c.Email = deref(email)
	c.Phone = deref(phone)
	c.FullName = deref(fullName)
	c.CRMID = deref(crm)
	c.ChatID = deref(chat)
	c.PaymentID = deref(pay)
	c.FirstSource = deref(firstSource)
	c.Campaign = deref(campaign)

	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &c.Metadata); err != nil {
			return nil, eris.Wrapf(err, "unify: decode metadata for client %s", c.ID)
		}
	}
	return &c, nil
}

// clientRow renders a client as a value slice in clientColumns order for
// COPY-based bulk writes.
func clientRow(c *model.Client, now time.Time) ([]any, error) {
	metaJSON, err := json.Marshal(orEmptyMap(c.Metadata))
	if err != nil {
		return nil, eris.Wrapf(err, "unify: encode metadata for client %s", c.ID)
	}

	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}

	return []any{
		c.ID, nullable(c.Email), nullable(c.Phone), c.FullName,
		nullable(c.CRMID), nullable(c.ChatID), nullable(c.PaymentID),
		tags, c.OptIns.Email, c.OptIns.SMS, c.OptIns.WhatsApp,
		string(c.Stage), nullable(c.FirstSource), nullable(c.Campaign), metaJSON,
		now, now,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nullable maps empty strings to SQL NULL so unique and partial indexes
// behave.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
