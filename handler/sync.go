// Package handlers implements the reference receiver of the sync wire
// contract: one POST per journal record, applied to Postgres.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"texsync/internal/document/model"
	"texsync/internal/document/repository"
	"texsync/internal/reconcile"
	"texsync/middleware"
	"texsync/pkg/logger"
	"texsync/store"
)

type SyncHandler struct {
	Repo *repository.DocumentRepository
}

func NewSyncHandler(repo *repository.DocumentRepository) *SyncHandler {
	return &SyncHandler{Repo: repo}
}

// ApplyChange applies one record. Any 2xx tells the client to clear the
// journal row, so a delete of an unknown document is acknowledged too.
func (h *SyncHandler) ApplyChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := subject(r)
	if !ok {
		http.Error(w, "Forbidden: subject is not a user id", http.StatusForbidden)
		return
	}

	var rec reconcile.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if rec.DocumentID == "" || !rec.Type.Valid() {
		http.Error(w, "documentId and a valid type are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ownerID, err := h.Repo.GetOwnerID(ctx, rec.DocumentID)
	exists := err == nil
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if exists && ownerID != userID {
		http.Error(w, "Forbidden: document belongs to another user", http.StatusForbidden)
		return
	}

	ack := model.SyncAck{DocumentID: rec.DocumentID, Type: rec.Type}
	if rec.Type == store.ChangeDelete {
		if exists {
			if err := h.Repo.Delete(ctx, rec.DocumentID); err != nil {
				http.Error(w, "Database error", http.StatusInternalServerError)
				return
			}
			ack.Applied = true
		}
		logger.Sugar.Infow("Applied sync record", "document_id", rec.DocumentID, "type", rec.Type, "applied", ack.Applied)
		writeJSON(w, http.StatusOK, ack)
		return
	}

	var doc store.Document
	if err := json.Unmarshal(rec.Data, &doc); err != nil {
		http.Error(w, "Invalid document snapshot", http.StatusBadRequest)
		return
	}
	if doc.ID != rec.DocumentID {
		http.Error(w, "Snapshot id does not match documentId", http.StatusBadRequest)
		return
	}
	if doc.UserID != userID {
		http.Error(w, "Forbidden: snapshot owner does not match token", http.StatusForbidden)
		return
	}

	if err := h.Repo.Upsert(ctx, doc); err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	ack.Applied = true
	logger.Sugar.Infow("Applied sync record", "document_id", rec.DocumentID, "type", rec.Type, "applied", true)

	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, ack)
}

func (h *SyncHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := subject(r)
	if !ok {
		http.Error(w, "Forbidden: subject is not a user id", http.StatusForbidden)
		return
	}

	docs, err := h.Repo.GetDocumentsByUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// Health answers the client's reachability probe.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

// subject maps the token's sub claim onto a numeric document owner.
func subject(r *http.Request) (int64, bool) {
	sub, ok := middleware.UserID(r.Context())
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Error encoding response: %v", err)
	}
}
