package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"texsync/internal/connectivity"
	"texsync/internal/reconcile"
)

// Helper function to read messages from a WebSocket connection with a timeout.
func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	var msg WSMessage
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err, "Failed to read message from WebSocket")
	require.NoError(t, json.Unmarshal(p, &msg), "Failed to unmarshal WSMessage JSON")
	return msg
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() == want }, time.Second, 5*time.Millisecond)
	return conn
}

func TestHubBroadcastsGlobalEvents(t *testing.T) {
	hub, url := startHub(t)
	conn1 := dial(t, hub, url+"/ws", 1)
	conn2 := dial(t, hub, url+"/ws?docId=doc-1", 2)

	hub.NotifyConnectivity(connectivity.Event{Type: connectivity.EventOnline, At: time.Now()})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		msg := readMessage(t, conn)
		assert.Equal(t, OnlineType, msg.Type)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload, &payload))
		assert.Equal(t, true, payload["online"])
	}

	hub.NotifySyncResult(reconcile.Result{Submitted: 2, Cleared: 2})
	for _, conn := range []*websocket.Conn{conn1, conn2} {
		msg := readMessage(t, conn)
		assert.Equal(t, SyncResultType, msg.Type)
		var res reconcile.Result
		require.NoError(t, json.Unmarshal(msg.Payload, &res))
		assert.Equal(t, 2, res.Cleared)
	}
}

func TestDocumentScopedClientsReceiveGlobalEvents(t *testing.T) {
	hub, url := startHub(t)
	doc1 := dial(t, hub, url+"/ws?docId=doc-1", 1)
	doc2 := dial(t, hub, url+"/ws?docId=doc-2", 2)

	hub.NotifyConnectivity(connectivity.Event{Type: connectivity.EventOffline, At: time.Now()})

	for _, conn := range []*websocket.Conn{doc1, doc2} {
		msg := readMessage(t, conn)
		assert.Equal(t, OfflineType, msg.Type)
		assert.Empty(t, msg.DocID)
	}
}

func TestHubRoutesDocumentEvents(t *testing.T) {
	hub, url := startHub(t)
	all := dial(t, hub, url+"/ws", 1)
	watching := dial(t, hub, url+"/ws?docId=doc-1", 2)
	other := dial(t, hub, url+"/ws?docId=doc-2", 3)

	hub.Publish(DocumentSavedType, "doc-1", map[string]string{"id": "doc-1"})

	for _, conn := range []*websocket.Conn{all, watching} {
		msg := readMessage(t, conn)
		assert.Equal(t, DocumentSavedType, msg.Type)
		assert.Equal(t, "doc-1", msg.DocID)
	}

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "a client watching another document gets nothing")
}

func TestHubDropsClosedClients(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url+"/ws", 1)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			hub.Publish(SyncResultType, "", reconcile.Result{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked after the hub stopped")
	}
}
