package connectivity

import (
	"context"
	"net/http"
	"time"

	"texsync/pkg/logger"
)

// Prober is the platform signal source: it polls a URL and reports whether
// the remote collaborator is reachable. Any HTTP response counts as online;
// only transport failures count as offline.
type Prober struct {
	URL      string
	Interval time.Duration
	Client   *http.Client
	Monitor  *Monitor
}

// NewProber returns a prober with a client timeout of half the interval.
func NewProber(url string, interval time.Duration, m *Monitor) *Prober {
	return &Prober{
		URL:      url,
		Interval: interval,
		Client:   &http.Client{Timeout: interval / 2},
		Monitor:  m,
	}
}

// Run probes immediately and then on every tick until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		online := p.Probe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		p.Monitor.SetOnline(online)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Probe performs a single reachability check.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		logger.Sugar.Errorf("Invalid probe URL %q: %v", p.URL, err)
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		logger.Sugar.Debugf("Probe of %s failed: %v", p.URL, err)
		return false
	}
	resp.Body.Close()
	return true
}
