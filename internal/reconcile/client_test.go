package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"texsync/store"
)

func TestHTTPSubmitterSendsRecord(t *testing.T) {
	var (
		gotAuth   string
		gotType   string
		gotMethod string
		gotBody   map[string]json.RawMessage
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sub := NewHTTPSubmitter(srv.URL, "secret-token", time.Second)
	rec := Record{
		DocumentID: "doc-1",
		Type:       store.ChangeUpdate,
		Data:       json.RawMessage(`{"id":"doc-1","title":"T"}`),
		Timestamp:  1_700_000_000_000,
	}
	require.NoError(t, sub.Submit(context.Background(), rec))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "application/json", gotType)
	require.Len(t, gotBody, 4)
	assert.JSONEq(t, `"doc-1"`, string(gotBody["documentId"]))
	assert.JSONEq(t, `"update"`, string(gotBody["type"]))
	assert.JSONEq(t, `{"id":"doc-1","title":"T"}`, string(gotBody["data"]))
	assert.JSONEq(t, `1700000000000`, string(gotBody["timestamp"]))
}

func TestHTTPSubmitterOmitsEmptyToken(t *testing.T) {
	var hasAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasAuth = r.Header["Authorization"]
	}))
	defer srv.Close()

	require.NoError(t, NewHTTPSubmitter(srv.URL, "", time.Second).Submit(context.Background(), Record{DocumentID: "x"}))
	assert.False(t, hasAuth)
}

func TestHTTPSubmitterRejectsNon2xx(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, strings.Repeat("x", 1024), status)
		}))

		err := NewHTTPSubmitter(srv.URL, "", time.Second).Submit(context.Background(), Record{DocumentID: "doc"})
		srv.Close()

		var syncErr *SyncError
		require.ErrorAs(t, err, &syncErr, "status %d", status)
		assert.Equal(t, status, syncErr.StatusCode)
		assert.Equal(t, "doc", syncErr.DocumentID)
		assert.LessOrEqual(t, len(syncErr.Body), 256)
		assert.Contains(t, err.Error(), "rejected")
	}
}

func TestHTTPSubmitterTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewHTTPSubmitter(url, "", time.Second).Submit(context.Background(), Record{DocumentID: "doc"})
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Zero(t, syncErr.StatusCode)
	assert.Error(t, errors.Unwrap(err))
}

func TestRecordOf(t *testing.T) {
	c := store.PendingChange{
		ID:         9,
		DocumentID: "d",
		Type:       store.ChangeDelete,
		Data:       json.RawMessage(`{"id":"d"}`),
		Timestamp:  42,
		Attempts:   3,
	}
	assert.Equal(t, Record{DocumentID: "d", Type: store.ChangeDelete, Data: json.RawMessage(`{"id":"d"}`), Timestamp: 42}, RecordOf(c))
}
