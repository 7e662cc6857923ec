package emqx

import (
	"context"
	"sync"
	"time"
)

// ClientLister returns the IDs of the clients connected to the broker.
// *Client implements it.
type ClientLister interface {
	ConnectedClientIDs(ctx context.Context) ([]string, error)
}

// PresenceReconciler marks devices missing from the broker's list offline.
// *presence.Store implements it.
type PresenceReconciler interface {
	Reconcile(ctx context.Context, connected []string, snapshotAt time.Time) (int, error)
}

// Logger defines the logging interface used by the Reconciler.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Reconciler periodically repairs presence drift caused by missed
// disconnect webhooks: a device the Presence Store believes online but the
// broker no longer reports is marked offline. It never creates devices.
type Reconciler struct {
	lister   ClientLister
	store    PresenceReconciler
	interval time.Duration
	logger   Logger

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewReconciler creates a reconciler running every interval.
func NewReconciler(lister ClientLister, store PresenceReconciler, interval time.Duration) *Reconciler {
	return &Reconciler{
		lister:   lister,
		store:    store,
		interval: interval,
		logger:   noopLogger{},
		done:     make(chan struct{}),
	}
}

// SetLogger sets the logger for the reconciler.
func (r *Reconciler) SetLogger(logger Logger) {
	r.logger = logger
}

// Start launches the background loop. It runs one pass immediately.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop ends the loop and waits for it. Safe to call more than once.
func (r *Reconciler) Stop() {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
}

// RunOnce fetches the broker's client list and reconciles against it. A
// failed fetch leaves presence untouched.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	snapshotAt := time.Now()
	ids, err := r.lister.ConnectedClientIDs(ctx)
	if err != nil {
		return 0, err
	}
	return r.store.Reconcile(ctx, ids, snapshotAt)
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

func (r *Reconciler) pass(ctx context.Context) {
	n, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Warn("presence reconciliation failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("presence reconciliation marked devices offline", "count", n)
	}
}
