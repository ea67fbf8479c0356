// Package background provides the background sync capability: tasks are
// registered by tag and run on a single goroutine, and a failed task is run
// again on the next scheduled retry.
package background

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"texsync/pkg/logger"
)

var ErrUnknownTag = errors.New("no handler for sync tag")

// Handler runs one sync task. A non-nil error keeps the tag scheduled for
// the next retry tick.
type Handler func(ctx context.Context) error

type Manager struct {
	retryInterval time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	pending  map[string]bool
	failed   map[string]bool
	wake     chan struct{}
}

// NewManager returns a manager that retries failed tasks every
// retryInterval.
func NewManager(retryInterval time.Duration) *Manager {
	return &Manager{
		retryInterval: retryInterval,
		handlers:      make(map[string]Handler),
		pending:       make(map[string]bool),
		failed:        make(map[string]bool),
		wake:          make(chan struct{}, 1),
	}
}

// Handle installs the handler for tag, replacing any previous one.
func (m *Manager) Handle(tag string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[tag] = h
}

// Register schedules tag to run. Registering a tag that is already pending
// does not queue it twice.
func (m *Manager) Register(tag string) error {
	m.mu.Lock()
	if _, ok := m.handlers[tag]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	m.pending[tag] = true
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending reports the tags waiting to run, including failed ones.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(m.pending)+len(m.failed))
	for tag := range m.pending {
		seen[tag] = true
	}
	for tag := range m.failed {
		seen[tag] = true
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Run executes registered tasks until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.wake:
			m.runPending(ctx)
		case <-ticker.C:
			m.mu.Lock()
			for tag := range m.failed {
				m.pending[tag] = true
			}
			m.failed = make(map[string]bool)
			m.mu.Unlock()
			m.runPending(ctx)
		}
	}
}

func (m *Manager) runPending(ctx context.Context) {
	m.mu.Lock()
	tags := make([]string, 0, len(m.pending))
	for tag := range m.pending {
		tags = append(tags, tag)
	}
	m.pending = make(map[string]bool)
	m.mu.Unlock()
	sort.Strings(tags)

	for _, tag := range tags {
		if ctx.Err() != nil {
			return
		}
		m.mu.Lock()
		h := m.handlers[tag]
		m.mu.Unlock()

		if err := h(ctx); err != nil {
			logger.Sugar.Warnf("Background sync %s failed, retrying in %s: %v", tag, m.retryInterval, err)
			m.mu.Lock()
			m.failed[tag] = true
			m.mu.Unlock()
			continue
		}
		logger.Sugar.Debugf("Background sync %s completed", tag)
	}
}
