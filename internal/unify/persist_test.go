package unify

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/client-sync/internal/model"
	"github.com/sells-group/client-sync/internal/normalize"
)

// expectClientUpsert sets up expectations for one BulkUpsert call against
// clients: Begin, CREATE TEMP TABLE, COPY, INSERT ON CONFLICT, Commit.
func expectClientUpsert(mock pgxmock.PgxPoolIface, n int64) {
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_clients"}, clientColumns).WillReturnResult(n)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", n))
	mock.ExpectCommit()
}

func updateMutation(id string) *Mutation {
	return &Mutation{
		Client: &model.Client{ID: id, Email: "u@example.com", Stage: model.StageLead},
		Action: model.ActionUpdated,
		Rec:    &normalize.Record{Source: model.SourceCRM, RawID: 1, Email: "u@example.com"},
	}
}

func createMutation(email, phone string) *Mutation {
	return &Mutation{
		Client: &model.Client{ID: "new-" + email + phone, Email: email, Phone: phone, Stage: model.StageLead},
		Action: model.ActionCreated,
		Rec:    &normalize.Record{Source: model.SourceChat, RawID: 2, Email: email, Phone: phone},
	}
}

func TestPersist_Update(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE clients").WithArgs(anyArgs(16)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	p := NewPersister(mock, 25, 0)
	res, err := p.Persist(context.Background(), []*Mutation{updateMutation("c-1")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Updated)
	assert.Equal(t, int64(0), res.Errors)
	require.Len(t, res.Succeeded, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_EmailCreateUsesUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectClientUpsert(mock, 2)

	p := NewPersister(mock, 25, 0)
	res, err := p.Persist(context.Background(), []*Mutation{
		createMutation("a@b.com", ""),
		createMutation("c@d.com", "+15550100"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_PhoneOnlySplitsUpdateAndInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// One phone already has a client, the other is new.
	existing := &model.Client{ID: "c-9", Phone: "+15550100"}
	mock.ExpectQuery("WHERE phone = ANY").
		WithArgs([]string{"+15550100", "+15550199"}).
		WillReturnRows(clientRows(t, existing))
	mock.ExpectExec("UPDATE clients").WithArgs(anyArgs(16)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"clients"}, clientColumns).WillReturnResult(1)

	known := createMutation("", "+15550100")
	known.Rec.Tags = []string{"ad-click"}
	fresh := createMutation("", "+15550199")

	p := NewPersister(mock, 25, 0)
	res, err := p.Persist(context.Background(), []*Mutation{known, fresh})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_PerRecordFallbackCountsErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	boom := errors.New("deadlock detected")
	// Batch write: first attempt and one retry both fail.
	mock.ExpectExec("UPDATE clients").WithArgs(anyArgs(16)...).WillReturnError(boom)
	mock.ExpectExec("UPDATE clients").WithArgs(anyArgs(16)...).WillReturnError(boom)
	// Per-record replay: first record fails for good, second succeeds.
	mock.ExpectExec("UPDATE clients").WithArgs(anyArgs(16)...).WillReturnError(boom)
	mock.ExpectExec("UPDATE clients").WithArgs(anyArgs(16)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	p := NewPersister(mock, 25, 0)
	res, err := p.Persist(context.Background(), []*Mutation{
		updateMutation("c-1"),
		updateMutation("c-2"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Errors)
	assert.Equal(t, int64(1), res.Updated)
	require.Len(t, res.Succeeded, 1)
	assert.Equal(t, "c-2", res.Succeeded[0].Client.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_Empty(t *testing.T) {
	p := NewPersister(nil, 25, 0)
	res, err := p.Persist(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Succeeded)
	assert.Zero(t, res.Created)
}
