package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeType is the intent recorded by a journal row.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Valid reports whether t is one of the three journal change types.
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeCreate, ChangeUpdate, ChangeDelete:
		return true
	}
	return false
}

// Document is the shape shared with the remote collaborator. CreatedAt and
// UpdatedAt are ISO-8601 strings and are stored verbatim.
type Document struct {
	ID        string `json:"id"`
	UserID    int64  `json:"userId"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
	IsLocal   bool   `json:"isLocal"`
}

// PendingChange is one row of the change journal.
type PendingChange struct {
	ID         int64           `json:"id"`
	DocumentID string          `json:"documentId"`
	Type       ChangeType      `json:"type"`
	Data       json.RawMessage `json:"data"`
	Timestamp  int64           `json:"timestamp"` // epoch milliseconds

	Attempts      int    `json:"attempts"`
	NextAttemptAt int64  `json:"nextAttemptAt"` // epoch milliseconds, 0 = immediately
	LastError     string `json:"lastError,omitempty"`
	DeadLetter    bool   `json:"deadLetter"`
}

// Document decodes the snapshot carried by a create or update change.
func (c PendingChange) Document() (*Document, error) {
	if c.Type == ChangeDelete {
		return nil, fmt.Errorf("change %d is a delete and carries no document", c.ID)
	}
	var doc Document
	if err := json.Unmarshal(c.Data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot of change %d: %w", c.ID, err)
	}
	return &doc, nil
}

// Due reports whether the change may be submitted at now.
func (c PendingChange) Due(now time.Time) bool {
	return !c.DeadLetter && c.NextAttemptAt <= now.UnixMilli()
}

// deleteData is the snapshot journaled for a delete.
type deleteData struct {
	ID string `json:"id"`
}
