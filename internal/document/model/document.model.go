package model

import (
	"time"

	"texsync/internal/reconcile"
	"texsync/store"
)

// SaveDocRequest is the body of a local save. An empty ID creates a new
// document; IsLocal is only honoured for documents the store has not seen.
type SaveDocRequest struct {
	ID      string `json:"id"`
	UserID  int64  `json:"userId"`
	Title   string `json:"title"`
	Content string `json:"content"`
	IsLocal *bool  `json:"isLocal,omitempty"`
}

type DeleteDocResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

type ConnectivityRequest struct {
	Online bool `json:"online"`
}

type ConnectivityResponse struct {
	Online                 bool `json:"online"`
	SupportsBackgroundSync bool `json:"supportsBackgroundSync"`
}

type RequeueResponse struct {
	Requeued int64 `json:"requeued"`
}

type SyncResponse struct {
	reconcile.Result
	Pending int `json:"pending"`
}

// RemoteDocument is a document as the sync receiver stores it.
type RemoteDocument struct {
	store.Document
	SyncedAt time.Time `json:"syncedAt"`
}

// SyncAck is returned by the receiver for every applied record.
type SyncAck struct {
	DocumentID string           `json:"documentId"`
	Type       store.ChangeType `json:"type"`
	Applied    bool             `json:"applied"`
}
