// Package service is the application-facing side of the offline store.
// Storage failures are logged here and turned into benign results so the
// UI keeps working when the local database is unavailable.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"texsync/internal/document/model"
	"texsync/internal/reconcile"
	"texsync/pkg/logger"
	"texsync/socket"
	"texsync/store"
)

// ErrOffline is returned by TriggerSync while the remote is unreachable.
var ErrOffline = errors.New("remote is offline")

// Drainer runs one reconciliation pass.
type Drainer interface {
	Drain(ctx context.Context) (reconcile.Result, error)
}

// Connectivity is the part of the monitor exposed to the UI.
type Connectivity interface {
	Online() bool
	SupportsBackgroundSync() bool
	SetOnline(online bool)
}

type DocumentService struct {
	Store   *store.Store
	Hub     *socket.Hub
	Worker  Drainer
	Monitor Connectivity

	now func() time.Time
}

func NewDocumentService(st *store.Store, hub *socket.Hub, worker Drainer, monitor Connectivity) *DocumentService {
	return &DocumentService{Store: st, Hub: hub, Worker: worker, Monitor: monitor, now: time.Now}
}

// SaveDocument stores req and returns the saved document, or nil when the
// store rejected it. New documents get an id and are local until the
// remote acknowledges them.
func (s *DocumentService) SaveDocument(ctx context.Context, req model.SaveDocRequest) *store.Document {
	now := isoTime(s.now())
	doc := store.Document{
		ID:        req.ID,
		UserID:    req.UserID,
		Title:     req.Title,
		Content:   req.Content,
		CreatedAt: now,
		UpdatedAt: now,
		IsLocal:   true,
	}

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	} else {
		existing, err := s.Store.GetDocumentOffline(ctx, doc.ID)
		if err != nil {
			logger.Sugar.Errorf("Error loading document %s before save: %v", doc.ID, err)
			return nil
		}
		switch {
		case existing != nil:
			doc.CreatedAt = existing.CreatedAt
			doc.IsLocal = existing.IsLocal
			if req.UserID == 0 {
				doc.UserID = existing.UserID
			}
		case req.IsLocal != nil:
			doc.IsLocal = *req.IsLocal
		}
	}

	saved, err := s.Store.SaveDocumentOffline(ctx, doc)
	if err != nil {
		logger.Sugar.Errorf("Error saving document offline: %v", err)
		return nil
	}
	s.publish(socket.DocumentSavedType, saved.ID, saved)
	return saved
}

func (s *DocumentService) GetDocument(ctx context.Context, id string) *store.Document {
	doc, err := s.Store.GetDocumentOffline(ctx, id)
	if err != nil {
		logger.Sugar.Errorf("Error getting offline document %s: %v", id, err)
		return nil
	}
	return doc
}

func (s *DocumentService) GetDocuments(ctx context.Context, userID ...int64) []store.Document {
	return s.Store.GetAllDocumentsOffline(ctx, userID...)
}

// DeleteDocument reports whether the delete was accepted. Deleting a
// document that does not exist is accepted.
func (s *DocumentService) DeleteDocument(ctx context.Context, id string) bool {
	if err := s.Store.DeleteDocumentOffline(ctx, id); err != nil {
		logger.Sugar.Errorf("Error deleting offline document %s: %v", id, err)
		return false
	}
	s.publish(socket.DocumentDeletedType, id, map[string]string{"id": id})
	return true
}

func (s *DocumentService) PendingChanges(ctx context.Context) []store.PendingChange {
	changes, err := s.Store.GetPendingChanges(ctx)
	if err != nil {
		logger.Sugar.Errorf("Error getting pending changes: %v", err)
		return []store.PendingChange{}
	}
	return changes
}

func (s *DocumentService) DeadLetters(ctx context.Context) []store.PendingChange {
	changes, err := s.Store.DeadLetters(ctx)
	if err != nil {
		logger.Sugar.Errorf("Error getting dead letters: %v", err)
		return []store.PendingChange{}
	}
	return changes
}

// RequeueDeadLetters makes parked changes eligible again and asks for a
// sync so they go out without waiting for the next trigger.
func (s *DocumentService) RequeueDeadLetters(ctx context.Context) int64 {
	n, err := s.Store.RequeueDeadLetters(ctx)
	if err != nil {
		logger.Sugar.Errorf("Error requeueing dead letters: %v", err)
		return 0
	}
	if n > 0 {
		logger.Sugar.Infof("Requeued %d dead-lettered change(s)", n)
		if s.Monitor != nil && s.Monitor.Online() {
			go s.drain(context.WithoutCancel(ctx))
		}
	}
	return n
}

// TriggerSync drains the journal now.
func (s *DocumentService) TriggerSync(ctx context.Context) (reconcile.Result, error) {
	if s.Monitor != nil && !s.Monitor.Online() {
		return reconcile.Result{}, ErrOffline
	}
	return s.Worker.Drain(ctx)
}

func (s *DocumentService) SetConnectivity(online bool) model.ConnectivityResponse {
	s.Monitor.SetOnline(online)
	return s.Connectivity()
}

func (s *DocumentService) Connectivity() model.ConnectivityResponse {
	return model.ConnectivityResponse{
		Online:                 s.Monitor.Online(),
		SupportsBackgroundSync: s.Monitor.SupportsBackgroundSync(),
	}
}

func (s *DocumentService) drain(ctx context.Context) {
	if _, err := s.Worker.Drain(ctx); err != nil {
		logger.Sugar.Warnf("Sync after requeue failed: %v", err)
	}
}

func (s *DocumentService) publish(msgType, docID string, payload any) {
	if s.Hub != nil {
		s.Hub.Publish(msgType, docID, payload)
	}
}

// isoTime formats t the way browsers serialise dates.
func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
