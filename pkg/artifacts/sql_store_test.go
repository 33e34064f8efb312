package artifacts

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStore_Set(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db, "sqlite")

	mock.ExpectExec("INSERT INTO objects").
		WithArgs("signals", "events", "application/json", sqlmock.AnyArg(), []byte(`[]`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.Set(context.Background(), NamespaceSignals, "events", Object{Data: []byte(`[]`), ContentType: "application/json"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db, "postgres")

	rows := sqlmock.NewRows([]string{"content_type", "metadata", "data"}).
		AddRow("text/plain", `{"name":"a.txt"}`, []byte("hi"))
	mock.ExpectQuery("SELECT content_type, metadata, data FROM objects").
		WithArgs("artifacts", "abc_a.txt").
		WillReturnRows(rows)

	obj, err := store.Get(context.Background(), NamespaceArtifacts, "abc_a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(obj.Data))
	assert.Equal(t, "a.txt", obj.Metadata["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db, "sqlite")
	mock.ExpectQuery("SELECT content_type").
		WithArgs("signals", "nope").
		WillReturnRows(sqlmock.NewRows([]string{"content_type", "metadata", "data"}))

	_, err = store.Get(context.Background(), NamespaceSignals, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLStore_ListEscapesPrefix(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db, "sqlite")
	mock.ExpectQuery("SELECT object_key FROM objects").
		WithArgs("signals", `records/a\_b%`).
		WillReturnRows(sqlmock.NewRows([]string{"object_key"}).AddRow("records/a_b.json"))

	keys, err := store.List(context.Background(), NamespaceSignals, "records/a_b")
	require.NoError(t, err)
	assert.Equal(t, []string{"records/a_b.json"}, keys)
}

func TestSQLStore_Exists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db, "sqlite")
	mock.ExpectQuery("SELECT 1 FROM objects").
		WithArgs("signals", "events").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectQuery("SELECT 1 FROM objects").
		WithArgs("signals", "gone").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))

	ok, err := store.Exists(context.Background(), NamespaceSignals, "events")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(context.Background(), NamespaceSignals, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLStore_Init(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS objects").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewSQLStore(db, "postgres").Init(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
