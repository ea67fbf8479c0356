// Package store is the client-local durable store: the documents table and
// the pending_changes journal, kept in one SQLite file.
//
// Every mutation of a document appends its journal row in the same
// transaction, so an accepted write always has a matching pending change.
// No other package touches either table directly.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"texsync/pkg/logger"

	_ "modernc.org/sqlite"
)

// SyncScheduler is the connectivity view the store needs to request a
// background sync after a mutation.
type SyncScheduler interface {
	Online() bool
	SupportsBackgroundSync() bool
	RequestSync() error
}

// Option configures a Store.
type Option func(*Store)

// WithSyncScheduler makes saves and deletes request a background sync.
func WithSyncScheduler(s SyncScheduler) Option {
	return func(st *Store) { st.scheduler = s }
}

// WithClock overrides the clock used for journal timestamps.
func WithClock(now func() time.Time) Option {
	return func(st *Store) { st.now = now }
}

type Store struct {
	path      string
	scheduler SyncScheduler
	now       func() time.Time

	mu      sync.Mutex
	db      *sql.DB
	initErr error
}

// New returns a store backed by the SQLite file at path. Nothing is opened
// until the first operation.
func New(path string, opts ...Option) *Store {
	s := &Store{path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open establishes the connection and migrates the schema. It is called
// lazily by every operation; calling it up front surfaces problems early.
func (s *Store) Open(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	if s.initErr != nil {
		return nil, s.initErr
	}

	// The first caller's cancellation must not become the store's permanent state.
	db, err := s.connect(context.WithoutCancel(ctx))
	if err != nil {
		s.initErr = &InitializationError{Path: s.path, Err: err}
		logger.Sugar.Errorf("Offline store initialization failed: %v", err)
		return nil, s.initErr
	}
	s.db = db
	logger.Sugar.Infof("Offline store opened at %s (schema v%d)", s.path, SchemaVersion)
	return s.db, nil
}

func (s *Store) connect(ctx context.Context) (*sql.DB, error) {
	if s.path == "" {
		return nil, errors.New("no database path configured")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer; one connection also serialises callers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the connection. A closed store can be reopened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// SaveDocumentOffline upserts doc and journals a create (doc.IsLocal) or an
// update, carrying the full document as its snapshot.
func (s *Store) SaveDocumentOffline(ctx context.Context, doc Document) (*Document, error) {
	if doc.ID == "" {
		return nil, txError("save", errors.New("document id is required"))
	}
	db, err := s.Open(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, txError("save", fmt.Errorf("failed to encode snapshot: %w", err))
	}
	changeType := ChangeUpdate
	if doc.IsLocal {
		changeType = ChangeCreate
	}

	err = s.withTx(ctx, "save", db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, user_id, title, content, created_at, updated_at, is_local)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				user_id = excluded.user_id,
				title = excluded.title,
				content = excluded.content,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				is_local = excluded.is_local`,
			doc.ID, doc.UserID, doc.Title, doc.Content, doc.CreatedAt, doc.UpdatedAt, doc.IsLocal)
		if err != nil {
			return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
		}
		return s.appendChange(ctx, tx, doc.ID, changeType, data)
	})
	if err != nil {
		return nil, err
	}

	s.requestSync()
	saved := doc
	return &saved, nil
}

// GetDocumentOffline returns nil, nil when no document has the given id.
func (s *Store) GetDocumentOffline(ctx context.Context, id string) (*Document, error) {
	db, err := s.Open(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, user_id, title, content, created_at, updated_at, is_local
		FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, txError("get", err)
	}
	return doc, nil
}

// GetAllDocumentsOffline lists every document, or only those owned by
// userID when one is given. Lookup failures are logged and yield an empty
// slice.
func (s *Store) GetAllDocumentsOffline(ctx context.Context, userID ...int64) []Document {
	docs, err := s.listDocuments(ctx, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list offline documents: %v", err)
		return []Document{}
	}
	return docs
}

func (s *Store) listDocuments(ctx context.Context, userID []int64) ([]Document, error) {
	db, err := s.Open(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, user_id, title, content, created_at, updated_at, is_local FROM documents`
	var args []any
	if len(userID) > 0 {
		query += ` WHERE user_id = ?`
		args = append(args, userID[0])
	}
	query += ` ORDER BY updated_at DESC, id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, txError("list", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, txError("list", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, txError("list", err)
	}
	return docs, nil
}

// DeleteDocumentOffline removes the document. A delete is journaled only when
// the remote side knows the document (IsLocal false); deleting a never-synced
// or missing document leaves nothing to reconcile.
func (s *Store) DeleteDocumentOffline(ctx context.Context, id string) error {
	db, err := s.Open(ctx)
	if err != nil {
		return err
	}

	err = s.withTx(ctx, "delete", db, func(tx *sql.Tx) error {
		var isLocal bool
		err := tx.QueryRowContext(ctx, `SELECT is_local FROM documents WHERE id = ?`, id).Scan(&isLocal)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read document %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", id, err)
		}
		if isLocal {
			return nil
		}

		data, err := json.Marshal(deleteData{ID: id})
		if err != nil {
			return err
		}
		return s.appendChange(ctx, tx, id, ChangeDelete, data)
	})
	if err != nil {
		return err
	}

	s.requestSync()
	return nil
}

// GetPendingChanges returns the whole journal in insertion order, dead
// letters included.
func (s *Store) GetPendingChanges(ctx context.Context) ([]PendingChange, error) {
	return s.queryChanges(ctx, "pending", "")
}

// DeadLetters returns the journal rows that exhausted their attempts.
func (s *Store) DeadLetters(ctx context.Context) ([]PendingChange, error) {
	return s.queryChanges(ctx, "dead letters", "WHERE dead_letter = 1")
}

func (s *Store) queryChanges(ctx context.Context, op, where string) ([]PendingChange, error) {
	db, err := s.Open(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, document_id, type, data, timestamp, attempts, next_attempt_at, last_error, dead_letter
		FROM pending_changes `+where+` ORDER BY id`)
	if err != nil {
		return nil, txError(op, err)
	}
	defer rows.Close()

	changes := []PendingChange{}
	for rows.Next() {
		var (
			c          PendingChange
			changeType string
			data       string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &changeType, &data, &c.Timestamp,
			&c.Attempts, &c.NextAttemptAt, &c.LastError, &c.DeadLetter); err != nil {
			return nil, txError(op, err)
		}
		c.Type = ChangeType(changeType)
		c.Data = json.RawMessage(data)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, txError(op, err)
	}
	return changes, nil
}

// ClearPendingChange removes one journal row. Clearing an id that is already
// gone is not an error.
func (s *Store) ClearPendingChange(ctx context.Context, id int64) error {
	db, err := s.Open(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM pending_changes WHERE id = ?`, id); err != nil {
		return txError("clear", err)
	}
	return nil
}

// RecordSyncFailure bumps the attempt counter of a journal row and schedules
// its next attempt, or parks it as a dead letter.
func (s *Store) RecordSyncFailure(ctx context.Context, id int64, cause string, nextAttempt time.Time, deadLetter bool) error {
	db, err := s.Open(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		UPDATE pending_changes
		SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?, dead_letter = ?
		WHERE id = ?`,
		truncate(cause, 512), nextAttempt.UnixMilli(), deadLetter, id)
	return txError("record failure", err)
}

// RequeueDeadLetters resets every dead letter to a fresh, immediately due
// row and returns how many were requeued.
func (s *Store) RequeueDeadLetters(ctx context.Context) (int64, error) {
	db, err := s.Open(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE pending_changes
		SET attempts = 0, next_attempt_at = 0, last_error = '', dead_letter = 0
		WHERE dead_letter = 1`)
	if err != nil {
		return 0, txError("requeue", err)
	}
	return res.RowsAffected()
}

// MarkDocumentSynced records that the remote acknowledged the document's
// creation. A document deleted in the meantime is ignored.
func (s *Store) MarkDocumentSynced(ctx context.Context, id string) error {
	db, err := s.Open(ctx)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `UPDATE documents SET is_local = 0 WHERE id = ?`, id)
	return txError("mark synced", err)
}

func (s *Store) appendChange(ctx context.Context, tx *sql.Tx, docID string, t ChangeType, data []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pending_changes (document_id, type, data, timestamp)
		VALUES (?, ?, ?, ?)`,
		docID, string(t), string(data), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to journal %s of %s: %w", t, docID, err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, op string, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return txError(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return txError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return txError(op, fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// requestSync is best effort: a failed registration is only logged.
func (s *Store) requestSync() {
	if s.scheduler == nil || !s.scheduler.SupportsBackgroundSync() || !s.scheduler.Online() {
		return
	}
	if err := s.scheduler.RequestSync(); err != nil {
		logger.Sugar.Warnf("Failed to register background sync: %v", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	if err := row.Scan(&doc.ID, &doc.UserID, &doc.Title, &doc.Content,
		&doc.CreatedAt, &doc.UpdatedAt, &doc.IsLocal); err != nil {
		return nil, err
	}
	return &doc, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
