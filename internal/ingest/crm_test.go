package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/client-sync/pkg/salesforce"
)

// stubSF returns canned contacts and records the SOQL it was asked for.
type stubSF struct {
	contacts []salesforce.Contact
	err      error
	soql     string
}

func (s *stubSF) Query(_ context.Context, soql string, out any) error {
	s.soql = soql
	if s.err != nil {
		return s.err
	}
	*(out.(*[]salesforce.Contact)) = s.contacts
	return nil
}

func TestPullCRM_StagesContacts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sf := &stubSF{contacts: []salesforce.Contact{
		{ID: "003A", Email: "a@b.com", Phone: "555-0100", Name: "Ann", LeadSource: "Web"},
		{ID: "003B", Name: "Bob"},
		{ID: ""}, // skipped
	}}

	mock.ExpectExec("INSERT INTO staging.crm_contacts").
		WithArgs("003A", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO staging.crm_contacts").
		WithArgs("003B", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := PullCRM(context.Background(), mock, sf, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NotContains(t, sf.soql, "WHERE", "zero since pulls everything")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPullCRM_SinceFilter(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sf := &stubSF{}
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	n, err := PullCRM(context.Background(), mock, sf, since)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, sf.soql, "LastModifiedDate > 2026-08-01T00:00:00Z")
}

func TestPullCRM_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sf := &stubSF{err: errors.New("INVALID_SESSION_ID")}
	_, err = PullCRM(context.Background(), mock, sf, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pull contacts")
}
