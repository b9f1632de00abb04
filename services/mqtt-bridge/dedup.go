package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/round-cube/parking-gate/shared"
	log "github.com/sirupsen/logrus"
)

// Deduplicator tracks the last published timestamp per vehicle key. Time is
// measured on the events' own timestamps. Seen and Mark must be called
// while holding the lock returned by Lock, so that check, publish and
// record happen as one step.
type Deduplicator interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
	Seen(ctx context.Context, key string, ts time.Time) (bool, error)
	Mark(ctx context.Context, key string, ts time.Time) error
}

func withinWindow(last, current time.Time, window time.Duration) bool {
	return current.Sub(last) < window
}

type MemoryDeduplicator struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

func NewMemoryDeduplicator(window time.Duration) *MemoryDeduplicator {
	return &MemoryDeduplicator{seen: make(map[string]time.Time), window: window, now: time.Now}
}

// Lock serialises all keys on a single mutex.
func (d *MemoryDeduplicator) Lock(_ context.Context, _ string) (func(), error) {
	d.mu.Lock()
	return d.mu.Unlock, nil
}

func (d *MemoryDeduplicator) Seen(_ context.Context, key string, ts time.Time) (bool, error) {
	d.cleanup()
	last, ok := d.seen[key]
	if ok && withinWindow(last, ts, d.window) {
		log.WithFields(log.Fields{"key": key, "last": last, "current": ts}).Warn("duplicate message")
		return true, nil
	}
	return false, nil
}

func (d *MemoryDeduplicator) Mark(_ context.Context, key string, ts time.Time) error {
	d.seen[key] = ts
	DedupEntries.Set(float64(len(d.seen)))
	return nil
}

// cleanup drops keys older than the window relative to wall-clock time.
func (d *MemoryDeduplicator) cleanup() {
	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.window {
			delete(d.seen, k)
		}
	}
	DedupEntries.Set(float64(len(d.seen)))
}

func (d *MemoryDeduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// RedisDeduplicator shares the window across bridge replicas.
type RedisDeduplicator struct {
	Redis    *redis.Client
	Locker   *redislock.Client
	LockOpts *redislock.Options
	Window   time.Duration
}

func (d *RedisDeduplicator) Lock(ctx context.Context, key string) (func(), error) {
	lock, err := d.Locker.Obtain(ctx, "LOCK"+key, 5*time.Second, d.LockOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock: %w", err)
	}
	return func() { lock.Release(context.Background()) }, nil
}

func (d *RedisDeduplicator) Seen(ctx context.Context, key string, ts time.Time) (bool, error) {
	last, err := d.Redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to fetch dedup state from Redis: %w", err)
	}
	lastTs, err := shared.ParseEventTime(last)
	if err != nil {
		log.WithField("key", key).Warnf("unparseable dedup state %q, ignoring", last)
		return false, nil
	}
	if withinWindow(lastTs, ts, d.Window) {
		log.WithFields(log.Fields{"key": key, "last": last, "current": ts}).Warn("duplicate message")
		return true, nil
	}
	return false, nil
}

func (d *RedisDeduplicator) Mark(ctx context.Context, key string, ts time.Time) error {
	if err := d.Redis.Set(ctx, key, shared.FormatEventTime(ts), d.Window).Err(); err != nil {
		return fmt.Errorf("failed to save dedup state to Redis: %w", err)
	}
	return nil
}
