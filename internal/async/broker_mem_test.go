package async

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
)

// memBroker is an in-process Broker for tests.
type memBroker struct {
	mu      sync.Mutex
	ready   [][]byte
	active  map[string][]byte
	delayed []delayedJob
	dead    []Envelope
	delays  []time.Duration
	pingErr error
	pushErr error
	beats   int
	left    bool
	recErr  error
}

type delayedJob struct {
	due  time.Time
	data []byte
}

func newMemBroker() *memBroker {
	return &memBroker{active: map[string][]byte{}}
}

func (m *memBroker) Push(_ context.Context, env Envelope) error {
	if m.pushErr != nil {
		return m.pushErr
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.ready = append(m.ready, data)
	m.mu.Unlock()
	return nil
}

func (m *memBroker) Reserve(ctx context.Context, timeout time.Duration) (*Reservation, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		if len(m.ready) > 0 {
			raw := m.ready[0]
			m.ready = m.ready[1:]
			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				m.mu.Unlock()
				return nil, ErrMalformedJob
			}
			m.active[env.ID] = raw
			m.mu.Unlock()
			return &Reservation{Envelope: env, raw: raw}, nil
		}
		m.mu.Unlock()
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (m *memBroker) Ack(_ context.Context, r *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, r.Envelope.ID)
	return nil
}

func (m *memBroker) Retry(_ context.Context, r *Reservation, delay time.Duration) error {
	data, err := json.Marshal(r.Envelope)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, r.Envelope.ID)
	m.delays = append(m.delays, delay)
	m.delayed = append(m.delayed, delayedJob{due: time.Now().Add(delay), data: data})
	return nil
}

func (m *memBroker) Bury(_ context.Context, r *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, r.Envelope.ID)
	m.dead = append([]Envelope{r.Envelope}, m.dead...)
	return nil
}

func (m *memBroker) PromoteDue(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	keep := m.delayed[:0]
	for _, d := range m.delayed {
		if !d.due.After(now) {
			m.ready = append(m.ready, d.data)
			n++
			continue
		}
		keep = append(keep, d)
	}
	m.delayed = keep
	return n, nil
}

func (m *memBroker) Recover(context.Context) (int, error) {
	if m.recErr != nil {
		return 0, m.recErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, raw := range m.active {
		m.ready = append(m.ready, raw)
		delete(m.active, id)
		n++
	}
	return n, nil
}

func (m *memBroker) Heartbeat(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beats++
	return 0, nil
}

func (m *memBroker) Leave(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.left = true
	return nil
}

func (m *memBroker) Dead(_ context.Context, limit int) ([]Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.dead) {
		limit = len(m.dead)
	}
	return append([]Envelope(nil), m.dead[:limit]...), nil
}

func (m *memBroker) Replay(ctx context.Context, id string) error {
	m.mu.Lock()
	for i, env := range m.dead {
		if env.ID != id {
			continue
		}
		m.dead = append(m.dead[:i], m.dead[i+1:]...)
		m.mu.Unlock()
		env.Attempts, env.LastError, env.FailedAt = 0, "", nil
		return m.Push(ctx, env)
	}
	m.mu.Unlock()
	return common.ErrNotFound
}

func (m *memBroker) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Ready:   int64(len(m.ready)),
		Active:  int64(len(m.active)),
		Delayed: int64(len(m.delayed)),
		Dead:    int64(len(m.dead)),
	}, nil
}

func (m *memBroker) Ping(context.Context) error { return m.pingErr }

func (m *memBroker) snapshot() (Stats, []time.Duration, []Envelope) {
	s, _ := m.Stats(context.Background())
	m.mu.Lock()
	defer m.mu.Unlock()
	return s, append([]time.Duration(nil), m.delays...), append([]Envelope(nil), m.dead...)
}

var errBoom = errors.New("boom")
