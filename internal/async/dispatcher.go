package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
)

// Handler processes one delivery. Errors marked with common.Terminal are not
// retried.
type Handler interface {
	Process(ctx context.Context, d Delivery) error
}

type HandlerFunc func(ctx context.Context, d Delivery) error

func (f HandlerFunc) Process(ctx context.Context, d Delivery) error { return f(ctx, d) }

type Dispatcher struct {
	broker  Broker
	handler Handler
	logger  *slog.Logger

	workers      int
	timeout      time.Duration
	retry        RetryPolicy
	pollTimeout  time.Duration
	promoteEvery time.Duration
	beatEvery    time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

type Option func(*Dispatcher)

func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithProcessTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(d *Dispatcher) {
		if p.MaxAttempts > 0 {
			d.retry.MaxAttempts = p.MaxAttempts
		}
		if p.Base > 0 {
			d.retry.Base = p.Base
		}
	}
}

func WithPollTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.pollTimeout = t
		}
	}
}

func WithPromoteInterval(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.promoteEvery = t
		}
	}
}

// WithHeartbeatInterval sets how often the worker refreshes its claim on
// in-flight jobs. Keep it well under the broker's heartbeat TTL.
func WithHeartbeatInterval(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.beatEvery = t
		}
	}
}

func NewDispatcher(broker Broker, handler Handler, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		broker:       broker,
		handler:      handler,
		logger:       logger,
		workers:      5,
		timeout:      3 * time.Minute,
		retry:        DefaultRetryPolicy,
		pollTimeout:  5 * time.Second,
		promoteEvery: time.Second,
		beatEvery:    DefaultHeartbeatTTL / 3,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run consumes jobs until ctx is cancelled or Shutdown is called, then waits
// for in-flight jobs. It fails fast when the broker is unreachable at start.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true
	d.mu.Unlock()

	defer func() {
		cancel()
		d.mu.Lock()
		d.running = false
		close(d.done)
		d.mu.Unlock()
	}()

	if err := d.broker.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", common.ErrQueueUnavailable, err)
	}
	if _, err := d.broker.Recover(ctx); err != nil {
		return fmt.Errorf("%w: recover in-flight jobs: %w", common.ErrQueueUnavailable, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		workerID := i + 1
		g.Go(func() error {
			d.work(gctx, workerID)
			return nil
		})
	}
	g.Go(func() error {
		d.promote(gctx)
		return nil
	})
	g.Go(func() error {
		d.heartbeat(gctx)
		return nil
	})

	d.logger.Info("dispatcher.started", "workers", d.workers, "max_attempts", d.retry.MaxAttempts)
	err := g.Wait()
	lctx, lcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	if lerr := d.broker.Leave(lctx); lerr != nil {
		d.logger.Warn("dispatcher.leave.failed", "error", lerr)
	}
	lcancel()
	d.logger.Info("dispatcher.stopped")
	return err
}

// Shutdown stops reserving new jobs and waits for in-flight ones to finish or
// for ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.cancel()
	done := d.done
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		d.logger.Warn("shutdown interrupted by context")
	case <-done:
		d.logger.Info("queue drained, shutdown complete")
	}
}

func (d *Dispatcher) work(ctx context.Context, workerID int) {
	d.logger.Info("worker started", "worker_id", workerID)
	defer d.logger.Info("worker stopped", "worker_id", workerID)

	for ctx.Err() == nil {
		r, err := d.broker.Reserve(ctx, d.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("dispatcher.reserve.failed", "worker_id", workerID, "error", err)
			if !errors.Is(err, ErrMalformedJob) {
				d.pause(ctx, time.Second)
			}
			continue
		}
		if r == nil {
			continue
		}
		d.handle(ctx, workerID, r)
	}
}

func (d *Dispatcher) handle(ctx context.Context, workerID int, r *Reservation) {
	env := &r.Envelope
	maxAttempts := env.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = d.retry.MaxAttempts
	}
	del := Delivery{JobID: env.ID, Job: env.Job, Attempt: env.Attempts + 1, MaxAttempts: maxAttempts}

	// in-flight jobs outlive a shutdown request; only the job timeout cuts them short
	base := context.WithoutCancel(ctx)
	jobCtx, cancel := context.WithTimeout(common.WithJobID(base, env.ID), d.timeout)
	start := time.Now()
	err := d.safeProcess(jobCtx, del)
	cancel()
	elapsed := time.Since(start)

	logAttrs := []any{
		"worker_id", workerID,
		"job_id", env.ID,
		"cv_id", env.Job.CVID,
		"attempt", del.Attempt,
		"max_attempts", maxAttempts,
		"elapsed_ms", elapsed.Milliseconds(),
	}

	bctx, bcancel := context.WithTimeout(base, 10*time.Second)
	defer bcancel()

	if err == nil {
		if aerr := d.broker.Ack(bctx, r); aerr != nil {
			d.logger.Error("dispatcher.ack.failed", append(logAttrs, "error", aerr)...)
		}
		d.logger.Info("dispatcher.job.ok", logAttrs...)
		return
	}

	env.Attempts = del.Attempt
	env.LastError = err.Error()
	if common.IsTerminal(err) || del.Final() {
		now := time.Now().UTC()
		env.FailedAt = &now
		if berr := d.broker.Bury(bctx, r); berr != nil {
			d.logger.Error("dispatcher.bury.failed", append(logAttrs, "error", berr)...)
		}
		d.logger.Warn("dispatcher.job.dead", append(logAttrs, "terminal", common.IsTerminal(err), "error", err)...)
		return
	}

	delay := d.retry.Delay(del.Attempt)
	if rerr := d.broker.Retry(bctx, r, delay); rerr != nil {
		d.logger.Error("dispatcher.retry.failed", append(logAttrs, "error", rerr)...)
	}
	d.logger.Warn("dispatcher.job.retry", append(logAttrs, "delay_ms", delay.Milliseconds(), "error", err)...)
}

func (d *Dispatcher) safeProcess(ctx context.Context, del Delivery) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("dispatcher.job.panic", "job_id", del.JobID, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return d.handler.Process(ctx, del)
}

func (d *Dispatcher) promote(ctx context.Context) {
	t := time.NewTicker(d.promoteEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := d.broker.PromoteDue(ctx, now)
			if err != nil {
				if ctx.Err() == nil {
					d.logger.Error("dispatcher.promote.failed", "error", err)
				}
				continue
			}
			if n > 0 {
				d.logger.Debug("dispatcher.promote.ok", "jobs", n)
			}
		}
	}
}

func (d *Dispatcher) heartbeat(ctx context.Context) {
	t := time.NewTicker(d.beatEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := d.broker.Heartbeat(ctx)
			if err != nil {
				if ctx.Err() == nil {
					d.logger.Error("dispatcher.heartbeat.failed", "error", err)
				}
				continue
			}
			if n > 0 {
				d.logger.Info("dispatcher.heartbeat.reclaimed", "jobs", n)
			}
		}
	}
}

func (d *Dispatcher) pause(ctx context.Context, t time.Duration) {
	timer := time.NewTimer(t)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
