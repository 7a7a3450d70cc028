package unify

import (
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/client-sync/internal/model"
	"github.com/sells-group/client-sync/internal/normalize"
)

// Field policies, applied independently per field:
//
//   - identifiers (email, phone, external ids): overwrite when the incoming
//     value is non-empty and differs
//   - display name: fill-empty only, an existing name is never clobbered
//   - attribution (first-touch source, campaign): first-write-wins
//   - opt-ins: additive, a later false never revokes consent recorded earlier
//   - tags: set union
//   - metadata: recursive deep merge, incoming wins on non-empty scalars,
//     arrays replaced wholesale

// shouldUpdate reports whether an incoming scalar should replace the
// existing value: incoming is non-empty and the values differ.
func shouldUpdate(existing, incoming string) bool {
	return incoming != "" && existing != incoming
}

// fillEmpty returns incoming only when the existing value is absent.
func fillEmpty(existing, incoming string) string {
	if existing == "" {
		return incoming
	}
	return existing
}

// BuildClient materializes a brand-new canonical client from a normalized
// record. Lifecycle stage defaults to lead.
func BuildClient(rec *normalize.Record, now time.Time) *model.Client {
	return &model.Client{
		ID:          uuid.NewString(),
		Email:       rec.Email,
		Phone:       rec.Phone,
		FullName:    rec.FullName,
		CRMID:       rec.CRMID,
		ChatID:      rec.ChatID,
		PaymentID:   rec.PaymentID,
		Tags:        unionTags(nil, rec.Tags),
		OptIns:      rec.OptIns,
		Stage:       model.StageLead,
		FirstSource: rec.FirstSource,
		Campaign:    rec.Campaign,
		Metadata:    DeepMerge(nil, rec.Metadata),
		LastSyncAt:  now,
	}
}

// MergeInto applies a normalized record to an existing client, returning the
// merged copy and whether anything changed. The input client is not mutated.
func MergeInto(existing *model.Client, rec *normalize.Record, now time.Time) (*model.Client, bool) {
	merged := *existing
	changed := false

	if shouldUpdate(merged.Email, rec.Email) {
		merged.Email = rec.Email
		changed = true
	}
	if shouldUpdate(merged.Phone, rec.Phone) {
		merged.Phone = rec.Phone
		changed = true
	}
	if shouldUpdate(merged.CRMID, rec.CRMID) {
		merged.CRMID = rec.CRMID
		changed = true
	}
	if shouldUpdate(merged.ChatID, rec.ChatID) {
		merged.ChatID = rec.ChatID
		changed = true
	}
	if shouldUpdate(merged.PaymentID, rec.PaymentID) {
		merged.PaymentID = rec.PaymentID
		changed = true
	}

	if name := fillEmpty(merged.FullName, rec.FullName); name != merged.FullName {
		merged.FullName = name
		changed = true
	}

	// First-touch attribution is set once and never overwritten.
	if merged.FirstSource == "" && rec.FirstSource != "" {
		merged.FirstSource = rec.FirstSource
		changed = true
	}
	if merged.Campaign == "" && rec.Campaign != "" {
		merged.Campaign = rec.Campaign
		changed = true
	}

	if rec.OptIns.Email && !merged.OptIns.Email {
		merged.OptIns.Email = true
		changed = true
	}
	if rec.OptIns.SMS && !merged.OptIns.SMS {
		merged.OptIns.SMS = true
		changed = true
	}
	if rec.OptIns.WhatsApp && !merged.OptIns.WhatsApp {
		merged.OptIns.WhatsApp = true
		changed = true
	}

	if tags := unionTags(merged.Tags, rec.Tags); len(tags) != len(merged.Tags) {
		merged.Tags = tags
		changed = true
	}

	if len(rec.Metadata) > 0 {
		if meta := DeepMerge(merged.Metadata, rec.Metadata); !metadataEqual(meta, merged.Metadata) {
			merged.Metadata = meta
			changed = true
		}
	}

	if changed {
		merged.LastSyncAt = now
	}
	return &merged, changed
}

// metadataEqual treats nil and empty maps as equal so a merge that adds
// nothing does not count as a change.
func metadataEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// unionTags merges two tag sets preserving first-seen order. The result is
// always deduplicated.
func unionTags(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, t := range existing {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	for _, t := range incoming {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// DeepMerge merges incoming into existing key by key without mutating either
// argument. Map-valued keys recurse; scalar and array values from the
// incoming side replace the existing value unless the incoming value is
// nil or empty. Arrays are replaced wholesale, never merged element-wise.
// Merges are additive: keys absent from incoming are untouched.
func DeepMerge(existing, incoming map[string]any) map[string]any {
	if len(existing) == 0 && len(incoming) == 0 {
		return nil
	}

	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}

	for k, inc := range incoming {
		if isEmptyValue(inc) {
			continue
		}
		incMap, incIsMap := inc.(map[string]any)
		exMap, exIsMap := out[k].(map[string]any)
		if incIsMap && exIsMap {
			out[k] = DeepMerge(exMap, incMap)
			continue
		}
		out[k] = inc
	}
	return out
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
