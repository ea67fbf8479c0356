// Package reconcile drains the change journal into the remote collaborator.
//
// Each journal row moves Queued -> Submitting -> Cleared. A failed
// submission leaves the row queued with an exponential backoff, and a row
// that keeps failing is parked as a dead letter. Partial progress is normal:
// whatever was acknowledged is cleared, the rest waits for the next drain.
package reconcile

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"texsync/pkg/logger"
	"texsync/store"
)

// Journal is the subset of the durable store the worker drives.
type Journal interface {
	GetPendingChanges(ctx context.Context) ([]store.PendingChange, error)
	ClearPendingChange(ctx context.Context, id int64) error
	RecordSyncFailure(ctx context.Context, id int64, cause string, nextAttempt time.Time, deadLetter bool) error
	MarkDocumentSynced(ctx context.Context, id string) error
}

type Config struct {
	MaxAttempts int           // attempts before a row becomes a dead letter
	BaseBackoff time.Duration // delay after the first failure
	MaxBackoff  time.Duration
	Squash      bool // fold each document's changes into its latest snapshot
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 8,
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  time.Hour,
		Squash:      true,
	}
}

// Result summarises one drain.
type Result struct {
	Submitted    int  `json:"submitted"`    // records sent
	Cleared      int  `json:"cleared"`      // journal rows removed
	Failed       int  `json:"failed"`       // journal rows left queued
	DeadLettered int  `json:"deadLettered"` // rows parked by this drain
	HeldBack     int  `json:"heldBack"`     // rows not due yet, or behind a row that is not
	Waiting      int  `json:"waiting"`      // rows backing off from an earlier drain
	Skipped      bool `json:"skipped"`      // another drain was already running
}

// merge adds the counts of a later pass. HeldBack and Waiting describe the
// journal after the last pass.
func (r *Result) merge(next Result) {
	r.Submitted += next.Submitted
	r.Cleared += next.Cleared
	r.Failed += next.Failed
	r.DeadLettered += next.DeadLettered
	r.HeldBack = next.HeldBack
	r.Waiting = next.Waiting
	r.Skipped = r.Skipped || next.Skipped
}

// ErrIncomplete is returned by Sync when some changes stay queued.
var ErrIncomplete = errors.New("journal not fully drained")

type Worker struct {
	journal   Journal
	submitter Submitter
	cfg       Config
	now       func() time.Time

	running  sync.Mutex
	rerun    atomic.Bool
	mu       sync.Mutex
	onResult []func(Result)
}

func NewWorker(journal Journal, submitter Submitter, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultConfig().BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	return &Worker{journal: journal, submitter: submitter, cfg: cfg, now: time.Now}
}

// OnResult registers fn to be called after every completed drain pass,
// including passes with nothing due.
func (w *Worker) OnResult(fn func(Result)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onResult = append(w.onResult, fn)
}

// Sync drains the journal and reports ErrIncomplete while changes are still
// waiting for a retry. It is the handler registered for the background sync
// tag, so an incomplete drain is run again on the next scheduled attempt.
func (w *Worker) Sync(ctx context.Context) error {
	res, err := w.Drain(ctx)
	if err != nil {
		return err
	}
	// A skipped drain is retried as well: the drain in progress may belong
	// to a caller that never reschedules.
	if res.Skipped || res.Failed > 0 || res.Waiting > 0 {
		return ErrIncomplete
	}
	return nil
}

// Drain submits every due change. Only one drain runs at a time; a call
// made while another is in progress returns immediately with Skipped, and
// the running drain makes one more pass so changes journaled meanwhile are
// not left behind.
func (w *Worker) Drain(ctx context.Context) (Result, error) {
	w.rerun.Store(true)

	var total Result
	for w.rerun.Load() {
		if !w.running.TryLock() {
			// The holder re-checks rerun after unlocking.
			return Result{Skipped: true}, nil
		}
		w.rerun.Store(false)
		res, err := w.drainOnce(ctx)
		w.running.Unlock()

		total.merge(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (w *Worker) drainOnce(ctx context.Context) (Result, error) {
	changes, err := w.journal.GetPendingChanges(ctx)
	if err != nil {
		return Result{}, err
	}

	now := w.now()
	batches, held := plan(changes, now, w.cfg.Squash)
	res := Result{HeldBack: held}
	for _, c := range changes {
		if !c.DeadLetter && !c.Due(now) {
			res.Waiting++
		}
	}
	if len(batches) == 0 {
		w.notify(res)
		return res, nil
	}
	logger.Sugar.Infof("Draining %d pending change(s) in %d submission(s)", len(changes)-held, len(batches))

	// Journal bookkeeping outlives cancellation: an acknowledged record
	// must still be cleared.
	book := context.WithoutCancel(ctx)
	failedDocs := make(map[string]bool)
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			// Abandoned rows simply stay queued.
			for _, rest := range batches[i:] {
				res.HeldBack += len(rest.ids)
			}
			return res, err
		}
		if failedDocs[b.record.DocumentID] {
			res.HeldBack += len(b.ids)
			continue
		}

		res.Submitted++
		if err := w.submitter.Submit(ctx, b.record); err != nil {
			failedDocs[b.record.DocumentID] = true
			w.recordFailure(book, b, err, &res)
			continue
		}

		for _, id := range b.ids {
			if err := w.journal.ClearPendingChange(book, id); err != nil {
				logger.Sugar.Errorf("Failed to clear acknowledged change %d: %v", id, err)
				continue
			}
			res.Cleared++
		}
		if b.record.Type == store.ChangeCreate {
			if err := w.journal.MarkDocumentSynced(book, b.record.DocumentID); err != nil {
				logger.Sugar.Errorf("Failed to mark %s as synced: %v", b.record.DocumentID, err)
			}
		}
	}

	logger.Sugar.Infow("Journal drain finished",
		"submitted", res.Submitted,
		"cleared", res.Cleared,
		"failed", res.Failed,
		"dead_lettered", res.DeadLettered,
		"held_back", res.HeldBack,
		"waiting", res.Waiting,
	)
	w.notify(res)
	return res, nil
}

func (w *Worker) recordFailure(ctx context.Context, b batch, cause error, res *Result) {
	logger.Sugar.Warnf("Sync submission failed, change(s) stay queued: %v", cause)

	now := w.now()
	for _, row := range b.rows {
		attempts := row.Attempts + 1
		dead := attempts >= w.cfg.MaxAttempts
		next := now.Add(Backoff(attempts, w.cfg.BaseBackoff, w.cfg.MaxBackoff))
		if err := w.journal.RecordSyncFailure(ctx, row.ID, cause.Error(), next, dead); err != nil {
			logger.Sugar.Errorf("Failed to record sync failure of change %d: %v", row.ID, err)
		}
		if dead {
			res.DeadLettered++
			logger.Sugar.Errorf("Change %d of %s moved to dead letters after %d attempts", row.ID, row.DocumentID, attempts)
		} else {
			res.Failed++
		}
	}
}

func (w *Worker) notify(res Result) {
	w.mu.Lock()
	fns := slices.Clone(w.onResult)
	w.mu.Unlock()
	for _, fn := range fns {
		fn(res)
	}
}

// Backoff returns base * 2^(attempts-1), capped at max.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 {
		return 0
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
