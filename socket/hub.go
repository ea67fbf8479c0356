package socket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"texsync/internal/connectivity"
	"texsync/internal/reconcile"
	"texsync/pkg/logger"
)

const (
	OnlineType          = "CONNECTIVITY_ONLINE"  // Remote became reachable
	OfflineType         = "CONNECTIVITY_OFFLINE" // Remote became unreachable
	SyncResultType      = "SYNC_RESULT"          // A journal drain finished
	DocumentSavedType   = "DOCUMENT_SAVED"       // Local save accepted
	DocumentDeletedType = "DOCUMENT_DELETED"     // Local delete accepted
)

type WSMessage struct {
	Type    string          `json:"type"`
	DocID   string          `json:"document_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// Hub fans application events out to the connected UI clients. A client
// that watches a document only receives events for that document plus the
// global ones; a client without a document receives everything.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan WSMessage
	Register   chan *Client
	Unregister chan *Client

	mu   sync.Mutex
	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan WSMessage, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for _, clients := range h.Rooms {
			for client := range clients {
				close(client.Send)
			}
		}
		h.Rooms = make(map[string]map[*Client]bool)
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.DocID] == nil {
				h.Rooms[client.DocID] = make(map[*Client]bool)
			}
			h.Rooms[client.DocID][client] = true
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.remove(client)

		case msg := <-h.Broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}
			for _, client := range h.recipients(msg.DocID) {
				select {
				case client.Send <- payload:
				default:
					// The client is lagging; drop it rather than block the hub.
					logger.Sugar.Warnf("Client %s's send buffer is full. Unregistering.", client.RemoteAddr)
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.Rooms[client.DocID][client]; !ok {
		return
	}
	delete(h.Rooms[client.DocID], client)
	close(client.Send)
	if len(h.Rooms[client.DocID]) == 0 {
		delete(h.Rooms, client.DocID)
	}
}

func (h *Hub) recipients(docID string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*Client
	for room, clients := range h.Rooms {
		if docID != "" && room != "" && room != docID {
			continue
		}
		for client := range clients {
			out = append(out, client)
		}
	}
	return out
}

// ClientCount reports the connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, clients := range h.Rooms {
		n += len(clients)
	}
	return n
}

// Publish queues an event. It never blocks once the hub has stopped, and
// drops the event when the broadcast queue is full.
func (h *Hub) Publish(msgType, docID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s payload: %v", msgType, err)
		return
	}
	msg := WSMessage{Type: msgType, DocID: docID, Payload: raw, At: time.Now().UTC()}
	select {
	case <-h.done:
	case h.Broadcast <- msg:
	default:
		logger.Sugar.Warnf("Broadcast queue full, dropping %s event", msgType)
	}
}

// NotifyConnectivity is a connectivity.Listener.
func (h *Hub) NotifyConnectivity(ev connectivity.Event) {
	msgType := OfflineType
	if ev.Type == connectivity.EventOnline {
		msgType = OnlineType
	}
	h.Publish(msgType, "", map[string]any{"online": ev.Type == connectivity.EventOnline, "at": ev.At})
}

// NotifySyncResult publishes the counts of a finished drain.
func (h *Hub) NotifySyncResult(res reconcile.Result) {
	h.Publish(SyncResultType, "", res)
}
