package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/client-sync/internal/model"
)

func TestEmail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercased and trimmed", "  Jane.Doe@Example.COM ", "jane.doe@example.com"},
		{"valid plain", "a@x.com", "a@x.com"},
		{"missing tld", "a@x", ""},
		{"missing at", "ax.com", ""},
		{"spaces inside", "a b@x.com", ""},
		{"empty", "", ""},
		{"single char tld", "a@x.c", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Email(tt.in))
		})
	}
}

func TestEmail_TooLong(t *testing.T) {
	local := make([]byte, 250)
	for i := range local {
		local[i] = 'a'
	}
	assert.Empty(t, Email(string(local)+"@example.com"))
}

func TestPhone(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare domestic 10 digit", "555-123-4567", "+15551234567"},
		{"already country coded", "+1 (555) 123-4567", "+15551234567"},
		{"11 digit long distance", "15551234567", "+15551234567"},
		{"international 12 digit", "447911123456", "+447911123456"},
		{"too short", "123", ""},
		{"nine digits", "555123456", ""},
		{"empty", "", ""},
		{"leading zeros stripped", "05551234567", "+15551234567"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Phone(tt.in, "1"))
		})
	}
}

func TestCleanString(t *testing.T) {
	assert.Empty(t, CleanString(""))
	assert.Empty(t, CleanString("  "))
	assert.Empty(t, CleanString("null"))
	assert.Empty(t, CleanString("undefined"))
	assert.Empty(t, CleanString("None"))
	assert.Empty(t, CleanString("{{first_name}}"))
	assert.Equal(t, "Jane", CleanString(" Jane "))
}

func TestTags_CommaString(t *testing.T) {
	assert.Equal(t, []string{"vip", "newsletter"}, Tags("vip, newsletter, , vip"))
}

func TestTags_ObjectArray(t *testing.T) {
	in := []any{
		map[string]any{"name": "vip"},
		"newsletter",
		map[string]any{"name": "vip"},
		map[string]any{"id": 3},
	}
	assert.Equal(t, []string{"vip", "newsletter"}, Tags(in))
}

func TestTags_Unsupported(t *testing.T) {
	assert.Nil(t, Tags(42))
}

func TestNormalize_SkipsWithoutIdentity(t *testing.T) {
	raw := model.RawRecord{
		ID:     1,
		Source: model.SourceCRM,
		Payload: map[string]any{
			"full_name": "Jane Doe",
		},
	}
	assert.Nil(t, Normalize(raw, DefaultOptions()))
}

func TestNormalize_CRMRecord(t *testing.T) {
	raw := model.RawRecord{
		ID:         7,
		Source:     model.SourceCRM,
		ExternalID: "crm-42",
		ArrivedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload: map[string]any{
			"email":         "  Jane@Example.com ",
			"phone":         "555-123-4567",
			"full_name":     "Jane Doe",
			"subscriber_id": "sub-9",
			"tags":          "vip,lead",
			"utm_source":    "google",
			"opt_in_email":  true,
		},
	}

	rec := Normalize(raw, DefaultOptions())
	require.NotNil(t, rec)
	assert.Equal(t, "jane@example.com", rec.Email)
	assert.Equal(t, "+15551234567", rec.Phone)
	assert.Equal(t, "Jane Doe", rec.FullName)
	assert.Equal(t, "crm-42", rec.CRMID)
	assert.Equal(t, "sub-9", rec.ChatID)
	assert.Equal(t, []string{"vip", "lead"}, rec.Tags)
	assert.Equal(t, "google", rec.FirstSource)
	assert.True(t, rec.OptIns.Email)
	assert.False(t, rec.OptIns.SMS)
}

func TestNormalize_ChatRecordPhoneOnly(t *testing.T) {
	raw := model.RawRecord{
		ID:         3,
		Source:     model.SourceChat,
		ExternalID: "sub-11",
		Payload: map[string]any{
			"whatsapp_phone": "(555) 987-6543",
			"first_name":     "Bob",
			"last_name":      "Jones",
		},
	}

	rec := Normalize(raw, DefaultOptions())
	require.NotNil(t, rec)
	assert.Empty(t, rec.Email)
	assert.Equal(t, "+15559876543", rec.Phone)
	assert.Equal(t, "Bob Jones", rec.FullName)
	assert.Equal(t, "sub-11", rec.ChatID)
}

func TestNormalize_TemplatePlaceholderTreatedAsAbsent(t *testing.T) {
	raw := model.RawRecord{
		ID:     5,
		Source: model.SourceChat,
		Payload: map[string]any{
			"email":     "{{email}}",
			"phone":     "5551234567",
			"full_name": "{{name}}",
		},
	}

	rec := Normalize(raw, DefaultOptions())
	require.NotNil(t, rec)
	assert.Empty(t, rec.Email)
	assert.Empty(t, rec.FullName)
	assert.Equal(t, "+15551234567", rec.Phone)
}

func TestNormalize_Aliases(t *testing.T) {
	opts := DefaultOptions()
	opts.Aliases = map[string][]string{"email": {"correo"}}

	raw := model.RawRecord{
		ID:      8,
		Source:  model.SourceSheet,
		Payload: map[string]any{"correo": "a@x.com"},
	}

	rec := Normalize(raw, opts)
	require.NotNil(t, rec)
	assert.Equal(t, "a@x.com", rec.Email)
}

func TestIdempotencyKey(t *testing.T) {
	rec := &Record{
		Source:    model.SourceCRM,
		Email:     "a@x.com",
		ArrivedAt: time.Unix(1700000000, 0),
	}
	assert.Equal(t, "crm:a@x.com:1700000000", rec.IdempotencyKey())

	rec.EventID = "evt-1"
	assert.Equal(t, "evt-1", rec.IdempotencyKey())
}
