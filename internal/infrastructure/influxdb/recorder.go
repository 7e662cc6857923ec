package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/notify-core/internal/infrastructure/config"
)

var (
	// ErrDisabled is returned by Open when metrics are turned off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrUnreachable is returned by Open when the server does not answer
	// a ping.
	ErrUnreachable = errors.New("influxdb: server unreachable")

	// ErrClosed is returned by Ping after Close.
	ErrClosed = errors.New("influxdb: recorder closed")
)

const (
	openTimeout = 10 * time.Second
	pingTimeout = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Logger receives asynchronous write failures.
type Logger interface {
	Warn(msg string, args ...any)
}

// Recorder turns presence transitions and dispatch outcomes into batched
// InfluxDB points. Writes never block and never fail the caller.
//
// A nil *Recorder is valid and records nothing, so callers keep a nil
// value when metrics are off.
type Recorder struct {
	client influxdb2.Client
	writes api.WriteAPI
	done   chan struct{}

	// mu guards closed; writes hold the read lock so Close never races a
	// point into the closed batch channel.
	mu     sync.RWMutex
	closed bool
}

// Open pings the server and returns a Recorder writing to cfg's bucket.
// Write errors reported later by the batching writer go to logger, which
// may be nil.
func Open(ctx context.Context, cfg config.InfluxDBConfig, logger Logger) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()
	if ok, err := client.Ping(pingCtx); err != nil || !ok {
		client.Close()
		if err == nil {
			err = errors.New("ping reported unhealthy")
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, cfg.URL, err)
	}

	r := &Recorder{
		client: client,
		writes: client.WriteAPI(cfg.Org, cfg.Bucket),
		done:   make(chan struct{}),
	}
	go r.drainErrors(logger)
	return r, nil
}

// writeOptions maps the batch settings onto the client options. Unset
// values fall back to the package defaults.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := defaultBatchSize
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	// #nosec G115 -- both values are positive
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush.Milliseconds())).
		SetPrecision(time.Millisecond)
}

func (r *Recorder) drainErrors(logger Logger) {
	defer close(r.done)
	for err := range r.writes.Errors() {
		if logger != nil {
			logger.Warn("influxdb write failed", "error", err)
		}
	}
}

// write hands point to the batching writer unless the recorder is nil or
// closed.
func (r *Recorder) write(point *write.Point) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.closed {
		r.writes.WritePoint(point)
	}
}

// Ping checks that the server still answers.
func (r *Recorder) Ping(ctx context.Context) error {
	if r == nil {
		return ErrClosed
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	ok, err := r.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb ping: %w", err)
	}
	if !ok {
		return errors.New("influxdb ping: server not healthy")
	}
	return nil
}

// Close flushes buffered points and releases the client. Later writes are
// dropped. It is safe on a nil Recorder and idempotent.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	// Closing the client flushes the batch and closes the error channel.
	r.client.Close()
	<-r.done
	return nil
}
