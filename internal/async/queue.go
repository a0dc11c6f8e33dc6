package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
)

// ErrMalformedJob is returned by Reserve for a payload that could not be
// decoded. The broker has already moved it to the dead set.
var ErrMalformedJob = errors.New("malformed job payload")

// ErrWorkerIDInUse is returned when another live process already holds this
// worker's id.
var ErrWorkerIDInUse = errors.New("worker id held by another live process")

// Reservation is a job taken from the ready queue and held in flight until
// it is acked, retried or buried.
type Reservation struct {
	Envelope Envelope
	raw      []byte
}

type Stats struct {
	Ready   int64 `json:"ready"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Dead    int64 `json:"dead"`
}

// Broker is the durable queue behind the dispatcher.
type Broker interface {
	Push(ctx context.Context, env Envelope) error
	// Reserve blocks up to timeout. It returns nil, nil when nothing arrived.
	Reserve(ctx context.Context, timeout time.Duration) (*Reservation, error)
	Ack(ctx context.Context, r *Reservation) error
	// Retry schedules r.Envelope to become ready again after delay.
	Retry(ctx context.Context, r *Reservation, delay time.Duration) error
	// Bury moves r.Envelope to the dead set.
	Bury(ctx context.Context, r *Reservation) error
	// PromoteDue moves delayed jobs whose time has come to the ready queue.
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	// Recover registers this worker and puts jobs left in flight by a previous
	// run, or by workers that went silent, back on the ready queue.
	Recover(ctx context.Context) (int, error)
	// Heartbeat keeps this worker's in-flight jobs claimed and requeues those
	// of workers that went silent.
	Heartbeat(ctx context.Context) (int, error)
	// Leave releases this worker's claim on shutdown.
	Leave(ctx context.Context) error
	Dead(ctx context.Context, limit int) ([]Envelope, error)
	Replay(ctx context.Context, id string) error
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}

// Producer submits jobs. It never drops a job silently: anything that keeps
// the job from reaching the broker is reported as ErrQueueUnavailable.
type Producer struct {
	broker      Broker
	maxAttempts int
	logger      *slog.Logger
}

func NewProducer(broker Broker, maxAttempts int, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	return &Producer{broker: broker, maxAttempts: maxAttempts, logger: logger}
}

func (p *Producer) Submit(ctx context.Context, job Job) (Envelope, error) {
	if err := job.Validate(); err != nil {
		return Envelope{}, err
	}
	if p == nil || p.broker == nil {
		return Envelope{}, fmt.Errorf("%w: no broker configured", common.ErrQueueUnavailable)
	}

	env := NewEnvelope(job, p.maxAttempts)
	if err := p.broker.Push(ctx, env); err != nil {
		p.logger.Error("producer.submit.failed", "cv_id", job.CVID, "job_id", env.ID, "error", err)
		return Envelope{}, fmt.Errorf("%w: %w", common.ErrQueueUnavailable, err)
	}
	p.logger.Info("producer.submit.ok", "cv_id", job.CVID, "submission_id", job.SubmissionID, "job_id", env.ID)
	return env, nil
}
