package repository

import (
	"context"
	"database/sql"
	"errors"

	"texsync/internal/document/model"
	"texsync/pkg/logger"
	"texsync/store"
)

// ErrNotFound is returned when a document does not exist remotely.
var ErrNotFound = errors.New("document not found")

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	user_id    BIGINT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL DEFAULT '',
	synced_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_documents_user_id ON documents (user_id);`

// DocumentRepository is the receiver's Postgres storage.
type DocumentRepository struct {
	DB *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{DB: db}
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	if err != nil {
		logger.Sugar.Errorf("Failed to create documents table: %v", err)
	}
	return err
}

// Upsert applies a create or update snapshot.
func (r *DocumentRepository) Upsert(ctx context.Context, doc store.Document) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO documents (id, user_id, title, content, created_at, updated_at, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			updated_at = EXCLUDED.updated_at,
			synced_at = NOW()`,
		doc.ID, doc.UserID, doc.Title, doc.Content, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to upsert doc %s: %v", doc.ID, err)
	}
	return err
}

func (r *DocumentRepository) GetOwnerID(ctx context.Context, docID string) (int64, error) {
	var ownerID int64
	err := r.DB.QueryRowContext(ctx, "SELECT user_id FROM documents WHERE id = $1", docID).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get owner ID for doc %s: %v", docID, err)
	}
	return ownerID, err
}

func (r *DocumentRepository) Delete(ctx context.Context, docID string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM documents WHERE id = $1", docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete doc %s: %v", docID, err)
	}
	return err
}

func (r *DocumentRepository) GetDocumentsByUser(ctx context.Context, userID int64) ([]model.RemoteDocument, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, user_id, title, content, created_at, updated_at, synced_at
		FROM documents WHERE user_id = $1
		ORDER BY updated_at DESC, id`, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to get documents for user %d: %v", userID, err)
		return nil, err
	}
	defer rows.Close()

	docs := []model.RemoteDocument{}
	for rows.Next() {
		var d model.RemoteDocument
		if err := rows.Scan(&d.ID, &d.UserID, &d.Title, &d.Content, &d.CreatedAt, &d.UpdatedAt, &d.SyncedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
