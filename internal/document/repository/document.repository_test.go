package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"texsync/store"
)

func newMockRepo(t *testing.T) (*DocumentRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDocumentRepository(db), mock
}

func TestUpsert(t *testing.T) {
	repo, mock := newMockRepo(t)
	doc := store.Document{ID: "doc-1", UserID: 7, Title: "T", Content: "C", CreatedAt: "c", UpdatedAt: "u"}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).
		WithArgs("doc-1", int64(7), "T", "C", "c", "u").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), doc))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPropagatesError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO documents").WillReturnError(errors.New("connection reset"))

	assert.Error(t, repo.Upsert(context.Background(), store.Document{ID: "x"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOwnerID(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM documents WHERE id = $1")).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(7)))
	owner, err := repo.GetOwnerID(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), owner)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id FROM documents WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	_, err = repo.GetOwnerID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM documents WHERE id = $1")).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "doc-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDocumentsByUser(t *testing.T) {
	repo, mock := newMockRepo(t)
	synced := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, user_id, title, content, created_at, updated_at, synced_at").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "content", "created_at", "updated_at", "synced_at"}).
			AddRow("b", int64(7), "B", "", "c", "2024-05-02", synced).
			AddRow("a", int64(7), "A", "", "c", "2024-05-01", synced))

	docs, err := repo.GetDocumentsByUser(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0].ID)
	assert.Equal(t, synced, docs[1].SyncedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDocumentsByUserEmpty(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT id, user_id").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "content", "created_at", "updated_at", "synced_at"}))

	docs, err := repo.GetDocumentsByUser(context.Background(), 3)
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestEnsureSchema(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
