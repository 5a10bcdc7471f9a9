package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	coreContext "github.com/integration-core/core/internal/domain/context"
	"github.com/integration-core/core/internal/domain/id"
	"github.com/integration-core/core/internal/domain/transaction"
	"github.com/integration-core/core/internal/stream"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestTransactionStore_AppendInsertsRow(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	store := NewTransactionStore(db)
	tx := transaction.Completed(id.New(id.PrefixEvent), "p::destination", nil, []byte(`{"ok":true}`))

	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(tx.ID.String(), tx.EventID.String(), tx.Key, []byte(tx.Output), tx.Err, string(tx.State), tx.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Append(context.Background(), tx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupStore_CreateMapsUniqueViolationToErrDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	store := NewDedupStore(db)

	mock.ExpectExec("INSERT INTO dedup_records").
		WithArgs("evt-1", []byte("null")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.Create(context.Background(), "evt-1", nil)
	require.ErrorIs(t, err, stream.ErrDuplicateEntity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupStore_ExistsQueriesByEntityID(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	store := NewDedupStore(db)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.Exists(context.Background(), "evt-1")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContextStore_SaveRootInsertsDocument(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	store := NewContextStore(db)
	now := time.Now().UTC().Truncate(time.Millisecond)

	rc := coreContext.RootContext{
		EventKey:  "evt-1",
		Stage:     coreContext.RootStageVerified{},
		Status:    coreContext.Succeeded{},
		Timestamp: now,
	}

	mock.ExpectExec("INSERT INTO contexts").
		WithArgs(rc.EventKey, sqlmock.AnyArg(), rc.Timestamp).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.SaveRoot(context.Background(), rc))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContextStore_FindStuckBuildsEventKeyList(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	store := NewContextStore(db)

	mock.ExpectQuery("SELECT event_key FROM").
		WillReturnRows(sqlmock.NewRows([]string{"event_key"}).AddRow("stuck-1").AddRow("stuck-2"))

	keys, err := store.FindStuck(context.Background(), 30*time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{"stuck-1", "stuck-2"}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}
