// Package normalize turns raw per-source payloads into canonical identifier
// sets. Parsing and validation happen once here; downstream components never
// re-inspect raw payloads.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/client-sync/internal/model"
)

// emailRe enforces a basic local@domain.tld shape. Anything stricter tends
// to reject real addresses; anything looser lets garbage into a unique index.
var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]{2,}$`)

const maxEmailLen = 255

// absentLiterals are string values serializers leak into payloads that mean
// "no value".
var absentLiterals = map[string]bool{
	"null":      true,
	"undefined": true,
	"None":      true,
}

// Record is the normalized form of one raw staging row. Empty string means
// absent for every scalar field.
type Record struct {
	Source      model.Source
	RawID       int64
	ArrivedAt   time.Time
	Email       string
	Phone       string
	FullName    string
	CRMID       string
	ChatID      string
	PaymentID   string
	Tags        []string
	OptIns      model.OptIns
	FirstSource string
	Campaign    string
	EventID     string
	Metadata    map[string]any
}

// HasIdentity reports whether the record carries at least one identifier the
// resolver can key on.
func (r *Record) HasIdentity() bool {
	return r.Email != "" || r.Phone != ""
}

// IdempotencyKey returns the lead-event dedup token: the source's explicit
// event id when present, else a deterministic fallback.
func (r *Record) IdempotencyKey() string {
	if r.EventID != "" {
		return r.EventID
	}
	ident := r.Email
	if ident == "" {
		ident = r.Phone
	}
	return fmt.Sprintf("%s:%s:%d", r.Source, ident, r.ArrivedAt.Unix())
}

// Options tunes normalization behavior.
type Options struct {
	// DefaultCountryCode is prepended to bare 10-digit domestic numbers.
	DefaultCountryCode string
	// Aliases maps canonical field names to per-source payload key names,
	// letting operators rename raw keys without code changes.
	Aliases map[string][]string
}

// DefaultOptions returns the standard normalization options.
func DefaultOptions() Options {
	return Options{DefaultCountryCode: "1"}
}

// Normalize converts one raw staging row into a Record, or nil when neither
// email nor phone can be derived (the row is skipped, not an error).
func Normalize(raw model.RawRecord, opts Options) *Record {
	get := func(keys ...string) string {
		for _, k := range keys {
			for _, kk := range append([]string{k}, opts.Aliases[k]...) {
				if v, ok := raw.Payload[kk]; ok {
					if s := CleanString(stringify(v)); s != "" {
						return s
					}
				}
			}
		}
		return ""
	}

	rec := &Record{
		Source:    raw.Source,
		RawID:     raw.ID,
		ArrivedAt: raw.ArrivedAt,
	}

	rec.Email = Email(get("email", "email_address"))
	rec.Phone = Phone(get("phone", "phone_number", "whatsapp_phone"), opts.DefaultCountryCode)
	rec.FullName = FullName(get("full_name", "name"))
	if rec.FullName == "" {
		first := get("first_name")
		last := get("last_name")
		rec.FullName = FullName(strings.TrimSpace(first + " " + last))
	}

	switch raw.Source {
	case model.SourceCRM:
		rec.CRMID = raw.ExternalID
		// CRM payloads sometimes carry the chat platform's subscriber id.
		rec.ChatID = get("subscriber_id", "chat_id")
	case model.SourceChat:
		rec.ChatID = raw.ExternalID
		rec.CRMID = get("crm_id")
	case model.SourceSheet:
		rec.CRMID = get("crm_id")
		rec.ChatID = get("subscriber_id", "chat_id")
	}
	rec.PaymentID = get("payment_id", "customer_id")

	if v, ok := raw.Payload["tags"]; ok {
		rec.Tags = Tags(v)
	}

	rec.OptIns = model.OptIns{
		Email:    truthy(raw.Payload["opt_in_email"]),
		SMS:      truthy(raw.Payload["opt_in_sms"]),
		WhatsApp: truthy(raw.Payload["opt_in_whatsapp"]),
	}

	rec.FirstSource = CleanString(get("utm_source", "source"))
	rec.Campaign = CleanString(get("utm_campaign", "campaign"))
	rec.EventID = get("event_id")

	if meta, ok := raw.Payload["metadata"].(map[string]any); ok {
		rec.Metadata = meta
	}

	if !rec.HasIdentity() {
		return nil
	}
	return rec
}

// Email lowercases and validates an email address. Invalid addresses are
// treated as absent, not fatal.
func Email(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > maxEmailLen || !emailRe.MatchString(s) {
		return ""
	}
	return s
}

// Phone normalizes a phone number to E.164-ish form:
//   - non-digit characters except a leading + are stripped
//   - leading zeros are removed
//   - a bare 10-digit number is assumed domestic and gets the default
//     country code
//   - an 11-digit number starting with "1" is treated as already
//     country-coded
//   - any number of 11+ digits is prefixed with +
//   - anything shorter is invalid and treated as absent
func Phone(s, defaultCC string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	hadPlus := strings.HasPrefix(s, "+")
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := strings.TrimLeft(digits.String(), "0")

	switch {
	case hadPlus && len(d) >= 10:
		return "+" + d
	case len(d) == 10:
		return "+" + defaultCC + d
	case len(d) == 11 && strings.HasPrefix(d, "1"):
		return "+" + d
	case len(d) >= 11:
		return "+" + d
	default:
		return ""
	}
}

// FullName trims and NFC-normalizes a display name.
func FullName(s string) string {
	s = CleanString(s)
	if s == "" {
		return ""
	}
	return norm.NFC.String(s)
}

// CleanString treats empty strings, serializer artifacts ("null",
// "undefined", "None"), and unresolved template placeholders ({{...}}) as
// absent.
func CleanString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || absentLiterals[s] {
		return ""
	}
	if strings.HasPrefix(s, "{{") {
		return ""
	}
	return s
}

// Tags accepts either a comma-separated string or an array of strings or
// objects with a "name" field, returning a deduplicated slice of non-empty
// trimmed tags in first-seen order.
func Tags(v any) []string {
	var parts []string
	switch t := v.(type) {
	case string:
		parts = strings.Split(t, ",")
	case []string:
		parts = t
	case []any:
		for _, item := range t {
			switch it := item.(type) {
			case string:
				parts = append(parts, it)
			case map[string]any:
				if name, ok := it["name"].(string); ok {
					parts = append(parts, name)
				}
			}
		}
	default:
		return nil
	}

	seen := make(map[string]bool, len(parts))
	var out []string
	for _, p := range parts {
		p = CleanString(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// stringify renders payload scalars as strings without decorating floats.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case bool, int, int64:
		return fmt.Sprintf("%v", t)
	default:
		return ""
	}
}

// truthy interprets the loose boolean encodings seen in raw payloads.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "yes" || s == "1"
	case float64:
		return t != 0
	default:
		return false
	}
}
