package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRegistrar struct {
	mu   sync.Mutex
	tags []string
	err  error
}

func (r *recordingRegistrar) Register(tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, tag)
	return r.err
}

func (r *recordingRegistrar) registered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tags...)
}

func TestMonitorEmitsOnlyTransitions(t *testing.T) {
	m := NewMonitor(WithInitialState(false))

	var events []EventType
	m.Subscribe(func(e Event) { events = append(events, e.Type) })

	m.SetOnline(false)
	m.SetOnline(true)
	m.SetOnline(true)
	m.SetOnline(false)

	assert.Equal(t, []EventType{EventOnline, EventOffline}, events)
	assert.False(t, m.Online())
}

func TestMonitorRegistersSyncTagWhenOnline(t *testing.T) {
	reg := &recordingRegistrar{}
	m := NewMonitor(WithInitialState(false), WithRegistrar(reg))

	m.SetOnline(true)
	m.SetOnline(false)
	m.SetOnline(true)

	assert.Equal(t, []string{SyncTag, SyncTag}, reg.registered())
}

func TestMonitorSwallowsRegistrationFailure(t *testing.T) {
	reg := &recordingRegistrar{err: errors.New("quota exceeded")}
	m := NewMonitor(WithInitialState(false), WithRegistrar(reg))

	assert.NotPanics(t, func() { m.SetOnline(true) })
	assert.True(t, m.Online())
	assert.Error(t, m.RequestSync())
}

func TestMonitorFallsBackToDirectSync(t *testing.T) {
	called := make(chan struct{}, 1)
	m := NewMonitor(WithInitialState(false), WithDirectSync(func() { called <- struct{}{} }))

	require.False(t, m.SupportsBackgroundSync())
	assert.ErrorIs(t, m.RequestSync(), ErrNoBackgroundSync)

	m.SetOnline(true)
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("direct sync was not invoked")
	}
}

func TestMonitorOfflineDoesNotSync(t *testing.T) {
	reg := &recordingRegistrar{}
	m := NewMonitor(WithRegistrar(reg))

	m.SetOnline(false)
	assert.Empty(t, reg.registered())
}

func TestUnsubscribe(t *testing.T) {
	m := NewMonitor()

	count := 0
	unsubscribe := m.Subscribe(func(Event) { count++ })
	m.SetOnline(false)
	unsubscribe()
	m.SetOnline(true)

	assert.Equal(t, 1, count)
}

func TestProberReportsReachability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	m := NewMonitor(WithInitialState(false))
	p := NewProber(server.URL, time.Second, m)

	assert.True(t, p.Probe(context.Background()), "any HTTP answer means the network is up")

	server.Close()
	assert.False(t, p.Probe(context.Background()))

	p.URL = "://bad"
	assert.False(t, p.Probe(context.Background()))
}

func TestProberRunUpdatesMonitor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	m := NewMonitor(WithInitialState(false))
	online := make(chan struct{}, 1)
	m.Subscribe(func(e Event) {
		if e.Type == EventOnline {
			online <- struct{}{}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewProber(server.URL, 50*time.Millisecond, m).Run(ctx) }()

	select {
	case <-online:
	case <-time.After(2 * time.Second):
		t.Fatal("prober never reported online")
	}
	cancel()
	require.NoError(t, <-done)
	assert.True(t, m.Online())
}
