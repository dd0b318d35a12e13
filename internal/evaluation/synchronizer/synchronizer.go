package synchronizer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"proofjudge/internal/evaluation/model"
	appErr "proofjudge/pkg/errors"
	"proofjudge/pkg/utils/contextkey"
	"proofjudge/pkg/utils/logger"

	"github.com/zeromicro/go-zero/core/threading"
	"go.uber.org/zap"
)

const (
	defaultInterval       = 5 * time.Second
	defaultMaxMisses      = 3
	defaultRequestTimeout = 10 * time.Second
)

// Config controls polling.
type Config struct {
	Interval time.Duration
	// MaxMisses is the number of consecutive failed polls that raises SyncDegraded.
	MaxMisses      int
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.MaxMisses <= 0 {
		c.MaxMisses = defaultMaxMisses
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return c
}

// Fetcher reads one submission. *client.Client implements it.
type Fetcher interface {
	GetSubmission(ctx context.Context, id int64) (model.Submission, error)
}

// Sink receives poll outcomes. Calls for one Handle never overlap.
type Sink interface {
	// ApplySnapshot merges a fetched snapshot and reports whether polling should continue.
	ApplySnapshot(sub model.Submission) bool
	// SyncDegraded is called once when consecutive misses reach the limit.
	SyncDegraded(err error)
	// SyncRecovered is called on the first successful poll after SyncDegraded.
	SyncRecovered()
	// SyncFailed is called when polling stops because of an error that will not heal.
	SyncFailed(err error)
}

// Synchronizer starts poll tasks. All reads of one submission, scheduled or
// manual, share a gate so that at most one is in flight.
type Synchronizer struct {
	fetcher Fetcher
	cfg     Config
	gates   sync.Map // int64 -> gate
}

// gate is a one-slot semaphore.
type gate chan struct{}

func (g gate) tryAcquire() bool {
	select {
	case g <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g gate) acquire(ctx context.Context) error {
	select {
	case g <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g gate) release() {
	<-g
}

func (s *Synchronizer) gate(id int64) gate {
	g, _ := s.gates.LoadOrStore(id, make(gate, 1))
	return g.(gate)
}

// New creates a synchronizer.
func New(fetcher Fetcher, cfg Config) *Synchronizer {
	return &Synchronizer{fetcher: fetcher, cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (s *Synchronizer) Config() Config {
	return s.cfg
}

// Fetch reads submission id once, outside any poll schedule. It waits for a
// read of the same submission that is still in flight.
func (s *Synchronizer) Fetch(ctx context.Context, id int64) (model.Submission, error) {
	g := s.gate(id)
	if err := g.acquire(ctx); err != nil {
		return model.Submission{}, appErr.Wrapf(err, appErr.Timeout, "submission %d: waiting for poll in flight", id)
	}
	defer g.release()
	return s.fetcher.GetSubmission(ctx, id)
}

// Handle owns one running poll task.
type Handle struct {
	id      int64
	cfg     Config
	fetcher Fetcher
	sink    Sink
	gate    gate

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool

	mu       sync.Mutex
	misses   int
	degraded bool
}

// Start polls submission id every interval until the sink asks to stop,
// a non-recoverable failure occurs, ctx is cancelled or Stop is called.
func (s *Synchronizer) Start(ctx context.Context, id int64, sink Sink) *Handle {
	ctx = context.WithValue(ctx, contextkey.SubmissionID, id)
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:      id,
		cfg:     s.cfg,
		fetcher: s.fetcher,
		sink:    sink,
		gate:    s.gate(id),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	threading.GoSafe(h.loop)
	return h
}

// Stop cancels polling. Results of a request still in flight are dropped.
func (h *Handle) Stop() {
	h.stopped.Store(true)
	h.cancel()
}

// Done is closed when the ticker loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stopped reports whether the handle no longer delivers results.
func (h *Handle) Stopped() bool {
	return h.stopped.Load()
}

// Degraded reports whether the miss limit has been reached without a later success.
func (h *Handle) Degraded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.degraded
}

func (h *Handle) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.stopped.Store(true)
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *Handle) tick() {
	if !h.gate.tryAcquire() {
		logger.Debug(h.ctx, "read still in flight, skipping tick")
		return
	}
	threading.GoSafe(func() {
		defer h.gate.release()
		h.poll()
	})
}

func (h *Handle) poll() {
	// Stopping the handle must not abort a request halfway; its result is discarded instead.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), h.cfg.RequestTimeout)
	sub, err := h.fetcher.GetSubmission(reqCtx, h.id)
	cancel()

	if h.stopped.Load() || h.ctx.Err() != nil {
		return
	}
	if err != nil {
		h.onFailure(err)
		return
	}
	h.onSuccess(sub)
}

func (h *Handle) onSuccess(sub model.Submission) {
	h.mu.Lock()
	recovered := h.degraded
	h.misses = 0
	h.degraded = false
	h.mu.Unlock()

	if recovered {
		logger.Info(h.ctx, "submission sync recovered")
		h.sink.SyncRecovered()
	}
	if !h.sink.ApplySnapshot(sub) {
		h.Stop()
	}
}

func (h *Handle) onFailure(err error) {
	if appErr.IsServerRejected(err) {
		logger.Error(h.ctx, "poll rejected by server, stopping", zap.Error(err))
		h.Stop()
		h.sink.SyncFailed(err)
		return
	}

	h.mu.Lock()
	h.misses++
	misses := h.misses
	raise := misses >= h.cfg.MaxMisses && !h.degraded
	if raise {
		h.degraded = true
	}
	h.mu.Unlock()

	logger.Warn(h.ctx, "poll failed", zap.Int("misses", misses), zap.Error(err))
	if raise {
		degradedErr := appErr.Wrapf(err, appErr.SyncDegraded, "submission %d: %d consecutive poll failures", h.id, misses).
			WithDetail("misses", misses)
		logger.Error(h.ctx, "submission sync degraded", zap.Error(degradedErr))
		h.sink.SyncDegraded(degradedErr)
	}
}
