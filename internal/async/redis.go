package async

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
)

const DefaultDeadLimit = 5000

// promoteScript moves due members of the delayed zset onto the ready list in
// one step so two promoters never push the same job twice.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, v in ipairs(due) do
	redis.call('ZREM', KEYS[1], v)
	redis.call('LPUSH', KEYS[2], v)
end
return #due
`)

// beatScript claims or refreshes this process's heartbeat. A key held by a
// different token means another live process runs under the same worker id.
var beatScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and cur ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SADD', KEYS[2], ARGV[3])
return 1
`)

// reclaimScript drains the in-flight lists of registered workers whose
// heartbeat has expired back onto the ready list, oldest job served first.
var reclaimScript = redis.NewScript(`
local moved = 0
for _, id in ipairs(redis.call('SMEMBERS', KEYS[1])) do
	if id ~= ARGV[2] and redis.call('EXISTS', ARGV[1] .. ':heartbeat:' .. id) == 0 then
		local active = ARGV[1] .. ':active:' .. id
		while redis.call('LMOVE', active, KEYS[2], 'LEFT', 'RIGHT') do
			moved = moved + 1
		end
		redis.call('SREM', KEYS[1], id)
	end
end
return moved
`)

const DefaultHeartbeatTTL = 30 * time.Second

type RedisConfig struct {
	URL       string
	Queue     string // key prefix, e.g. "cv-processing"
	WorkerID  string // names this process's in-flight list
	DeadLimit int
	// HeartbeatTTL is how long a silent worker keeps its in-flight jobs
	// before other workers take them over.
	HeartbeatTTL time.Duration
}

// RedisBroker keeps jobs in Redis lists:
//
//	<queue>:ready             waiting jobs (LPUSH in, BLMOVE out)
//	<queue>:active:<worker>   jobs reserved by a worker process
//	<queue>:delayed           zset of retries scored by due time (ms)
//	<queue>:dead              failed jobs, newest first, capped
//	<queue>:workers           set of worker ids that own an active list
//	<queue>:heartbeat:<worker> liveness key, expires after HeartbeatTTL
type RedisBroker struct {
	client    *redis.Client
	queue     string
	workerID  string
	token     string
	ready     string
	active    string
	delayed   string
	dead      string
	workers   string
	heartbeat string
	ttl       time.Duration
	deadLimit int
	logger    *slog.Logger
}

func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return rdb, nil
}

func NewRedisBroker(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisBroker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Queue == "" {
		cfg.Queue = "cv-processing"
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "default"
	}
	if cfg.DeadLimit <= 0 {
		cfg.DeadLimit = DefaultDeadLimit
	}
	if cfg.HeartbeatTTL <= 0 {
		cfg.HeartbeatTTL = DefaultHeartbeatTTL
	}
	return &RedisBroker{
		client:    client,
		queue:     cfg.Queue,
		workerID:  cfg.WorkerID,
		token:     uuid.NewString(),
		ready:     cfg.Queue + ":ready",
		active:    cfg.Queue + ":active:" + cfg.WorkerID,
		delayed:   cfg.Queue + ":delayed",
		dead:      cfg.Queue + ":dead",
		workers:   cfg.Queue + ":workers",
		heartbeat: cfg.Queue + ":heartbeat:" + cfg.WorkerID,
		ttl:       cfg.HeartbeatTTL,
		deadLimit: cfg.DeadLimit,
		logger:    logger,
	}
}

func (b *RedisBroker) Push(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.LPush(ctx, b.ready, data).Err()
}

func (b *RedisBroker) Reserve(ctx context.Context, timeout time.Duration) (*Reservation, error) {
	raw, err := b.client.BLMove(ctx, b.ready, b.active, "RIGHT", "LEFT", timeout).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.logger.Error("broker.reserve.malformed", "queue", b.ready, "error", err)
		if _, perr := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, b.active, 1, raw)
			pipe.LPush(ctx, b.dead, raw)
			pipe.LTrim(ctx, b.dead, 0, int64(b.deadLimit-1))
			return nil
		}); perr != nil {
			return nil, perr
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedJob, err)
	}
	return &Reservation{Envelope: env, raw: raw}, nil
}

func (b *RedisBroker) Ack(ctx context.Context, r *Reservation) error {
	return b.client.LRem(ctx, b.active, 1, r.raw).Err()
}

func (b *RedisBroker) Retry(ctx context.Context, r *Reservation, delay time.Duration) error {
	data, err := json.Marshal(r.Envelope)
	if err != nil {
		return err
	}
	due := time.Now().Add(delay).UnixMilli()
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.active, 1, r.raw)
		pipe.ZAdd(ctx, b.delayed, redis.Z{Score: float64(due), Member: data})
		return nil
	})
	return err
}

func (b *RedisBroker) Bury(ctx context.Context, r *Reservation) error {
	data, err := json.Marshal(r.Envelope)
	if err != nil {
		return err
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.active, 1, r.raw)
		pipe.LPush(ctx, b.dead, data)
		pipe.LTrim(ctx, b.dead, 0, int64(b.deadLimit-1))
		return nil
	})
	return err
}

func (b *RedisBroker) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	n, err := promoteScript.Run(ctx, b.client, []string{b.delayed, b.ready}, now.UnixMilli(), 100).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Recover claims this worker's heartbeat, requeues whatever a previous run
// under the same id left in flight, then takes over the lists of workers whose
// heartbeat has lapsed. It returns ErrWorkerIDInUse when another live process
// holds the same id.
func (b *RedisBroker) Recover(ctx context.Context) (int, error) {
	if err := b.beat(ctx); err != nil {
		return 0, err
	}
	n := 0
	for {
		err := b.client.LMove(ctx, b.active, b.ready, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		b.logger.Warn("broker.recover.requeued", "queue", b.ready, "worker", b.workerID, "jobs", n)
	}
	m, err := b.reclaim(ctx)
	return n + m, err
}

// Heartbeat refreshes this worker's liveness key and takes over the in-flight
// jobs of workers that stopped refreshing theirs.
func (b *RedisBroker) Heartbeat(ctx context.Context) (int, error) {
	if err := b.beat(ctx); err != nil {
		return 0, err
	}
	return b.reclaim(ctx)
}

// Leave drops the liveness key so the id can be reused at once. Anything still
// in the active list is picked up by the next Recover or Heartbeat elsewhere.
func (b *RedisBroker) Leave(ctx context.Context) error {
	return b.client.Del(ctx, b.heartbeat).Err()
}

func (b *RedisBroker) beat(ctx context.Context) error {
	ok, err := beatScript.Run(ctx, b.client, []string{b.heartbeat, b.workers},
		b.token, b.ttl.Milliseconds(), b.workerID).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return fmt.Errorf("%w: %s", ErrWorkerIDInUse, b.workerID)
	}
	return nil
}

func (b *RedisBroker) reclaim(ctx context.Context) (int, error) {
	n, err := reclaimScript.Run(ctx, b.client, []string{b.workers, b.ready}, b.queue, b.workerID).Int()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		b.logger.Warn("broker.reclaim.requeued", "queue", b.ready, "worker", b.workerID, "jobs", n)
	}
	return n, nil
}

func (b *RedisBroker) Dead(ctx context.Context, limit int) ([]Envelope, error) {
	if limit <= 0 {
		limit = 50
	}
	items, err := b.client.LRange(ctx, b.dead, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Envelope, 0, len(items))
	for _, it := range items {
		var env Envelope
		if err := json.Unmarshal([]byte(it), &env); err != nil {
			b.logger.Warn("broker.dead.malformed", "error", err)
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

// Replay moves a dead job back to the ready queue with a fresh attempt budget.
func (b *RedisBroker) Replay(ctx context.Context, id string) error {
	items, err := b.client.LRange(ctx, b.dead, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, it := range items {
		var env Envelope
		if err := json.Unmarshal([]byte(it), &env); err != nil || env.ID != id {
			continue
		}
		env.Attempts = 0
		env.LastError = ""
		env.FailedAt = nil
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, b.dead, 1, it)
			pipe.LPush(ctx, b.ready, data)
			return nil
		})
		return err
	}
	return fmt.Errorf("dead job %s: %w", id, common.ErrNotFound)
}

func (b *RedisBroker) Stats(ctx context.Context) (Stats, error) {
	var (
		ready, active, dead *redis.IntCmd
		delayed             *redis.IntCmd
	)
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.LLen(ctx, b.ready)
		active = pipe.LLen(ctx, b.active)
		delayed = pipe.ZCard(ctx, b.delayed)
		dead = pipe.LLen(ctx, b.dead)
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return Stats{Ready: ready.Val(), Active: active.Val(), Delayed: delayed.Val(), Dead: dead.Val()}, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
