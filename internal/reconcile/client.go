package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"texsync/store"
)

// Record is the body POSTed to the sync endpoint.
type Record struct {
	DocumentID string           `json:"documentId"`
	Type       store.ChangeType `json:"type"`
	Data       json.RawMessage  `json:"data"`
	Timestamp  int64            `json:"timestamp"`
}

// RecordOf converts a journal row into its wire form.
func RecordOf(c store.PendingChange) Record {
	return Record{
		DocumentID: c.DocumentID,
		Type:       c.Type,
		Data:       c.Data,
		Timestamp:  c.Timestamp,
	}
}

// SyncError is a failed submission: a transport error, or a response
// outside the 2xx range.
type SyncError struct {
	DocumentID string
	StatusCode int // 0 for transport errors
	Body       string
	Err        error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sync of %s failed: %v", e.DocumentID, e.Err)
	}
	return fmt.Sprintf("sync of %s rejected with status %d: %s", e.DocumentID, e.StatusCode, e.Body)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Submitter delivers one record to the remote collaborator.
type Submitter interface {
	Submit(ctx context.Context, rec Record) error
}

// SubmitterFunc adapts a plain function to Submitter.
type SubmitterFunc func(ctx context.Context, rec Record) error

func (f SubmitterFunc) Submit(ctx context.Context, rec Record) error { return f(ctx, rec) }

// HTTPSubmitter implements the sync wire contract over HTTP.
type HTTPSubmitter struct {
	Endpoint string
	Token    string
	Client   *http.Client
}

func NewHTTPSubmitter(endpoint, token string, timeout time.Duration) *HTTPSubmitter {
	return &HTTPSubmitter{
		Endpoint: endpoint,
		Token:    token,
		Client:   &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSubmitter) Submit(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return &SyncError{DocumentID: rec.DocumentID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return &SyncError{DocumentID: rec.DocumentID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return &SyncError{DocumentID: rec.DocumentID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return &SyncError{
			DocumentID: rec.DocumentID,
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(snippet)),
		}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
