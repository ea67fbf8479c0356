// Package connectivity turns raw reachability signals into application
// events and background sync requests.
//
// A Monitor is created once by the application shell and handed to whatever
// needs it; there is no package-level listener state.
package connectivity

import (
	"errors"
	"sync"
	"time"

	"texsync/pkg/logger"
)

// SyncTag names the background sync task registered on every transition to
// online.
const SyncTag = "sync-latex-changes"

// ErrNoBackgroundSync is returned by RequestSync when the monitor has no
// background sync capability.
var ErrNoBackgroundSync = errors.New("background sync is not available")

type EventType string

const (
	EventOnline  EventType = "online"
	EventOffline EventType = "offline"
)

// Event is emitted to subscribers on every connectivity transition.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
}

type Listener func(Event)

// Registrar is the background sync capability: it accepts a task tag and
// arranges for the task to run.
type Registrar interface {
	Register(tag string) error
}

type Option func(*Monitor)

// WithRegistrar gives the monitor a background sync capability.
func WithRegistrar(r Registrar) Option {
	return func(m *Monitor) { m.registrar = r }
}

// WithDirectSync sets the function invoked on transitions to online when no
// registrar is available. It runs on its own goroutine.
func WithDirectSync(fn func()) Option {
	return func(m *Monitor) { m.directSync = fn }
}

// WithInitialState sets the state assumed before the first signal.
func WithInitialState(online bool) Option {
	return func(m *Monitor) { m.online = online }
}

type Monitor struct {
	registrar  Registrar
	directSync func()

	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]Listener
}

// NewMonitor returns a monitor that assumes the client starts online.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		online:    true,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers l for every future event. The returned function
// removes it again.
func (m *Monitor) Subscribe(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// SetOnline feeds a platform signal into the monitor. Repeating the current
// state is a no-op.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	event := Event{Type: EventOffline, At: time.Now()}
	if online {
		event.Type = EventOnline
	}
	logger.Sugar.Infof("Connectivity changed: %s", event.Type)

	for _, l := range listeners {
		l(event)
	}

	if !online {
		return
	}
	if m.registrar != nil {
		if err := m.registrar.Register(SyncTag); err != nil {
			logger.Sugar.Warnf("Failed to register %s: %v", SyncTag, err)
		}
		return
	}
	if m.directSync != nil {
		go m.directSync()
	}
}

// Online reports the last known state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) SupportsBackgroundSync() bool {
	return m.registrar != nil
}

// RequestSync registers the sync task without waiting for a transition.
func (m *Monitor) RequestSync() error {
	if m.registrar == nil {
		return ErrNoBackgroundSync
	}
	return m.registrar.Register(SyncTag)
}
