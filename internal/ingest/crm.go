package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/client-sync/internal/db"
	"github.com/sells-group/client-sync/pkg/salesforce"
)

const contactSOQL = "SELECT Id, Email, Phone, Name, LeadSource, LastModifiedDate FROM Contact"

// PullCRM queries Salesforce contacts modified since the given time (zero
// time pulls everything) and stages them for unification. Already-staged
// external IDs are refreshed in place and their processed marker cleared so
// the engine picks the change up again.
func PullCRM(ctx context.Context, pool db.Pool, client salesforce.Client, since time.Time) (int64, error) {
	soql := contactSOQL
	if !since.IsZero() {
		soql = fmt.Sprintf("%s WHERE LastModifiedDate > %s", contactSOQL,
			since.UTC().Format("2006-01-02T15:04:05Z"))
	}

	var contacts []salesforce.Contact
	if err := client.Query(ctx, soql, &contacts); err != nil {
		return 0, eris.Wrap(err, "ingest: pull contacts")
	}

	var staged int64
	for _, c := range contacts {
		if c.ID == "" {
			continue
		}
		payload := map[string]any{
			"crm_id":    c.ID,
			"email":     c.Email,
			"phone":     c.Phone,
			"full_name": c.Name,
		}
		if c.LeadSource != "" {
			payload["lead_source"] = c.LeadSource
		}
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			return staged, eris.Wrapf(err, "ingest: encode contact %s", c.ID)
		}

		_, err = pool.Exec(ctx, `INSERT INTO staging.crm_contacts (external_id, payload)
			VALUES ($1, $2)
			ON CONFLICT (external_id) DO UPDATE SET
				payload = EXCLUDED.payload,
				processed_at = NULL,
				arrived_at = now()`,
			c.ID, payloadJSON)
		if err != nil {
			return staged, eris.Wrapf(err, "ingest: stage contact %s", c.ID)
		}
		staged++
	}

	zap.L().Info("crm contacts staged",
		zap.Int64("staged", staged),
		zap.Time("since", since),
	)
	return staged, nil
}
