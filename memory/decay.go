package memory

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/orkarun/orka/telemetry"
)

// CleanupResult is returned by CleanupExpired (spec §4.3.3).
type CleanupResult struct {
	ExpiredFound int
	Cleaned      int
	Errors       []string
}

// CleanupExpired implements spec §4.3.3's on-demand sweep: scan
// orka_memory:* keys, read each entry's expire_time_ms, and delete those
// past due unless dryRun is set (in which case entries are counted but left
// retrievable, per spec §8 scenario 5).
func (s *RedisStore) CleanupExpired(ctx context.Context, dryRun bool) (CleanupResult, error) {
	keys, err := s.client.Keys(ctx, entryKeyPrefix+"*").Result()
	if err != nil {
		return CleanupResult{}, err
	}

	now := time.Now()
	var result CleanupResult
	for _, key := range keys {
		uid := strings.TrimPrefix(key, entryKeyPrefix)
		entry, found, err := s.Get(ctx, uid)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if !found || !entry.IsExpired(now) {
			continue
		}
		result.ExpiredFound++
		if dryRun {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Cleaned++
		telemetry.Counter("memory.evictions", "memory_type", string(entry.MemoryType), "reason", "expired")
	}
	return result, nil
}

// DecaySweeper is the background worker started iff decay is enabled (spec
// §4.3.3): it waits CheckIntervalMinutes, sweeps, and on consecutive
// failures backs off the interval (capped) before retrying.
type DecaySweeper struct {
	store    Store
	interval time.Duration
	backoff  *backoff.ExponentialBackOff
	stop     chan struct{}
}

// NewDecaySweeper builds a sweeper for store, checking every interval
// (derived from DecayConfig.CheckIntervalMinutes by the caller). Consecutive
// sweep failures back the interval off exponentially, capped at 8x, via
// cenkalti/backoff/v5 rather than a hand-rolled doubling loop.
func NewDecaySweeper(store Store, interval time.Duration) *DecaySweeper {
	return &DecaySweeper{
		store:    store,
		interval: interval,
		backoff: backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(interval),
			backoff.WithMaxInterval(interval*8),
			backoff.WithMultiplier(2),
			backoff.WithRandomizationFactor(0),
		),
		stop: make(chan struct{}),
	}
}

// Run blocks, sweeping on each tick, until ctx is cancelled or Stop is
// called. onSweep, if non-nil, is invoked with each sweep's result -- tests
// and telemetry hook in here rather than scraping logs.
func (d *DecaySweeper) Run(ctx context.Context, onSweep func(CleanupResult)) {
	current := d.interval

	timer := time.NewTimer(current)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-timer.C:
			result, err := d.store.CleanupExpired(ctx, false)
			if err != nil || len(result.Errors) > 0 {
				current = d.backoff.NextBackOff()
			} else {
				d.backoff.Reset()
				current = d.interval
			}
			if onSweep != nil {
				onSweep(result)
			}
			timer.Reset(current)
		}
	}
}

// Stop signals Run to return.
func (d *DecaySweeper) Stop() {
	close(d.stop)
}
