// Copyright 2025 Certen Protocol
//
// Package queue implements C5: a durable, Redis-backed work queue with
// bounded worker concurrency, content-keyed per-app dedup, a 5-minute
// verification deadline, and the completion hook that uploads the
// artifact and updates the task row. Grounded on
// pkg/attestation/service.go's fan-out/collect shape and main.go's
// context-cancel-then-WaitGroup-drain shutdown idiom, generalized from
// broadcasting attestation requests to dequeuing verification jobs.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/certen/tee-verifier/pkg/database"
	"github.com/certen/tee-verifier/pkg/service"
	"github.com/certen/tee-verifier/pkg/storage"
	"github.com/certen/tee-verifier/pkg/verifier"
)

// Verifier is the subset of *service.Service the queue drives. A fresh
// collector is guaranteed per call inside Service.Verify itself — the
// queue never needs to (and must never) share one across jobs.
type Verifier interface {
	Verify(ctx context.Context, app service.AppConfig, flagOverride *verifier.Flags) service.Report
}

// Options configures a Queue.
type Options struct {
	RedisAddr           string
	QueueName           string
	Concurrency         int           // default 5
	VerificationTimeout time.Duration // default 5 minutes
	PollTimeout         time.Duration // BRPOP block duration, default 5s

	// DefaultFlags, when non-nil, is passed as every job's flag override
	// (the VERIFICATION_FLAGS deployment config) instead of letting each
	// call fall back to verifier.DefaultFlags().
	DefaultFlags *verifier.Flags
}

func (o Options) withDefaults() Options {
	if o.QueueName == "" {
		o.QueueName = "tee-verifier"
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.VerificationTimeout <= 0 {
		o.VerificationTimeout = 5 * time.Minute
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 5 * time.Second
	}
	return o
}

// Stats mirrors spec.md §4.5's stats() shape. Completed/Failed are
// process-lifetime counters (not a historical DB aggregate); Delayed and
// Paused are always zero.
type Stats struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
	Delayed   int64
	Paused    int64
}

// Queue drives C5's worker pool against a durable Redis list, backed by
// C8's task repository for durable state and C4's Service for the
// actual verification work.
type Queue struct {
	opts Options

	redis  *redis.Client
	tasks  *database.TaskRepository
	apps   *database.AppRepository
	sink   *storage.ArtifactSink
	verify Verifier
	logger *log.Logger

	active    int64
	completed int64
	failed    int64

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	closeMu sync.Mutex
	closed  bool
}

// New constructs a Queue against an already-dialed *redis.Client (tests
// point this at a miniredis instance; production points it at REDIS_URL).
func New(opts Options, redisClient *redis.Client, tasks *database.TaskRepository, apps *database.AppRepository, sink *storage.ArtifactSink, verify Verifier, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(log.Writer(), "[queue] ", log.LstdFlags)
	}
	return &Queue{
		opts:   opts.withDefaults(),
		redis:  redisClient,
		tasks:  tasks,
		apps:   apps,
		sink:   sink,
		verify: verify,
		logger: logger,
	}
}

func (q *Queue) listKey() string     { return q.opts.QueueName + ":jobs" }
func (q *Queue) appLockKey(appID string) string { return q.opts.QueueName + ":inflight:" + appID }

// AddTask implements addTask(): content-keyed dedup on app_id via a
// Redis SETNX lock; a second enqueue attempt for an app that already has
// an in-flight task is a no-op that returns the existing task id.
func (q *Queue) AddTask(ctx context.Context, appID string, forceRefresh bool) (string, error) {
	app, err := q.apps.GetApp(ctx, appID)
	if err != nil {
		return "", fmt.Errorf("app lookup for %q: %w", appID, err)
	}

	taskID := uuid.New()
	ok, err := q.redis.SetNX(ctx, q.appLockKey(appID), taskID.String(), 0).Result()
	if err != nil {
		return "", fmt.Errorf("acquiring in-flight lock for %q: %w", appID, err)
	}
	if !ok {
		existing, err := q.redis.Get(ctx, q.appLockKey(appID)).Result()
		if err != nil {
			return "", fmt.Errorf("reading in-flight task for %q: %w", appID, err)
		}
		return existing, nil
	}

	task := &database.VerificationTask{
		TaskID:       taskID,
		AppID:        app.AppID,
		Status:       database.TaskStatusPending,
		QueueJobID:   taskID.String(),
		ForceRefresh: forceRefresh,
	}
	if _, err := q.tasks.CreateTask(ctx, task); err != nil {
		q.redis.Del(ctx, q.appLockKey(appID))
		return "", fmt.Errorf("creating task row: %w", err)
	}

	if err := q.redis.LPush(ctx, q.listKey(), taskID.String()).Err(); err != nil {
		q.redis.Del(ctx, q.appLockKey(appID))
		return "", fmt.Errorf("enqueueing task: %w", err)
	}

	return taskID.String(), nil
}

// Stats implements stats().
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	waiting, err := q.redis.LLen(ctx, q.listKey()).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("reading queue length: %w", err)
	}
	return Stats{
		Waiting:   waiting,
		Active:    atomic.LoadInt64(&q.active),
		Completed: atomic.LoadInt64(&q.completed),
		Failed:    atomic.LoadInt64(&q.failed),
	}, nil
}

// HealthCheck implements healthCheck(): pings the backend and reports stats.
func (q *Queue) HealthCheck(ctx context.Context) (Stats, error) {
	if err := q.redis.Ping(ctx).Err(); err != nil {
		return Stats{}, fmt.Errorf("redis ping failed: %w", err)
	}
	return q.Stats(ctx)
}

// Start launches the worker pool. Each worker independently BRPOPs the
// job list; there is no cross-worker shared state beyond Redis and the
// relational store, per spec.md §4.5's scheduling model.
func (q *Queue) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for i := 0; i < q.opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.runWorker(workerCtx)
	}
}

func (q *Queue) runWorker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := q.redis.BRPop(ctx, q.opts.PollTimeout, q.listKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Printf("brpop error: %v", err)
			continue
		}

		// res is [listKey, value]
		if len(res) < 2 {
			continue
		}
		// Detached from ctx deliberately: Close() cancels ctx to stop
		// picking up *new* jobs, but an in-flight verification must be
		// allowed to run to its own 5-minute deadline ("graceful close
		// drains in-flight jobs", spec.md §4.5).
		q.processJob(context.Background(), res[1])
	}
}

// Close implements close(): cancels the worker context, drains in-flight
// jobs, and closes the Redis connection.
func (q *Queue) Close() error {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return nil
	}
	q.closed = true
	q.closeMu.Unlock()

	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	return q.redis.Close()
}
