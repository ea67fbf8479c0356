package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"texsync/internal/document/model"
	"texsync/internal/document/service"
	"texsync/pkg/logger"
	"texsync/store"
)

type DocumentHandler struct {
	Service *service.DocumentService
}

func NewDocumentHandler(service *service.DocumentService) *DocumentHandler {
	return &DocumentHandler{Service: service}
}

func (h *DocumentHandler) SaveDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.SaveDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	doc := h.Service.SaveDocument(r.Context(), req)
	if doc == nil {
		http.Error(w, "Offline storage unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	docID := r.URL.Query().Get("id")
	if docID == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}

	doc := h.Service.GetDocument(r.Context(), docID)
	if doc == nil {
		http.Error(w, "Document not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var owners []int64
	if v := r.URL.Query().Get("userId"); v != "" {
		userID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "Invalid userId parameter", http.StatusBadRequest)
			return
		}
		owners = append(owners, userID)
	}

	writeJSON(w, http.StatusOK, h.Service.GetDocuments(r.Context(), owners...))
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	docID := r.URL.Query().Get("id")
	if docID == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}

	resp := model.DeleteDocResponse{ID: docID, Deleted: h.Service.DeleteDocument(r.Context(), docID)}
	status := http.StatusOK
	if !resp.Deleted {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *DocumentHandler) GetPendingChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.Service.PendingChanges(r.Context()))
}

func (h *DocumentHandler) GetDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.Service.DeadLetters(r.Context()))
}

func (h *DocumentHandler) RequeueDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, model.RequeueResponse{Requeued: h.Service.RequeueDeadLetters(r.Context())})
}

func (h *DocumentHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res, err := h.Service.TriggerSync(r.Context())
	if errors.Is(err, service.ErrOffline) {
		http.Error(w, "Remote is offline, changes stay queued", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		logger.Sugar.Errorf("Handler: manual sync failed: %v", err)
		http.Error(w, "Sync failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, model.SyncResponse{
		Result:  res,
		Pending: countQueued(h.Service.PendingChanges(r.Context())),
	})
}

// Connectivity reports the monitor state on GET and overrides it on PUT.
func (h *DocumentHandler) Connectivity(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Service.Connectivity())
	case http.MethodPut:
		var req model.ConnectivityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, h.Service.SetConnectivity(req.Online))
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func countQueued(changes []store.PendingChange) int {
	n := 0
	for _, c := range changes {
		if !c.DeadLetter {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Error encoding response: %v", err)
	}
}
