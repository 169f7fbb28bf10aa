// Copyright (c) 2026 The dubqueue Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package queue

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/coordinator"
)

// DistributedQueueConfig carries the tunables common/environment.go reads
// from LOCK_TTL_MS/LOCK_REFRESH_MS/MAX_ATTEMPTS/BASE_BACKOFF_MS/
// BACKOFF_CAP_MS. Grounded on the original redis_queue.py's _Cfg dataclass
// (lock_ttl_ms, lock_refresh_ms, max_attempts, base_backoff_ms,
// backoff_cap_ms), including its floors on each value.
type DistributedQueueConfig struct {
	LockTTL     time.Duration
	LockRefresh time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	BackoffCap  time.Duration
}

func (c DistributedQueueConfig) withDefaults() DistributedQueueConfig {
	if c.LockTTL <= 0 {
		c.LockTTL = 45 * time.Second
	}
	if c.LockTTL < 10*time.Second {
		c.LockTTL = 10 * time.Second
	}
	if c.LockRefresh <= 0 {
		c.LockRefresh = 15 * time.Second
	}
	if c.LockRefresh > c.LockTTL/3 {
		c.LockRefresh = c.LockTTL / 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 750 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	return c
}

// DistributedQueue is the coordinator-backed QueueBackend of spec.md §4.4: a
// priority-ordered sorted set for pending work, a delayed set for
// backed-off retries, and a per-job lock key that gives mutual exclusion
// across every process racing to claim the same job. Structurally this
// mirrors the teacher's jobsAdmin part-plan sorted-set scheduling in
// ste/xferAudit.go / jobsAdmin.go, rebuilt atop the KeyedCoordinator
// contract instead of an in-process goroutine.
type DistributedQueue struct {
	coord      coordinator.Coordinator
	prefix     string
	log        common.ILogger
	clock      common.Clock
	dispatch   Dispatcher
	instanceID string
	cfg        DistributedQueueConfig

	mu       sync.Mutex
	locks    map[string]string // jobID -> lock token, for jobs this instance holds
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewDistributedQueue constructs a DistributedQueue. dispatch is invoked by
// the consume loop once a job is successfully claimed; the actual
// quota/policy recheck at dispatch time is JobExecutor's responsibility,
// not the queue backend's. Zero-valued fields of cfg fall back to the same
// floors the original redis_queue.py's _Cfg.from_settings applies.
func NewDistributedQueue(coord coordinator.Coordinator, prefix string, log common.ILogger, clock common.Clock, dispatch Dispatcher, instanceID string, cfg DistributedQueueConfig) *DistributedQueue {
	if clock == nil {
		clock = common.RealClock
	}
	if log == nil {
		log = common.NopLogger
	}
	return &DistributedQueue{
		coord:      coord,
		prefix:     prefix,
		log:        log,
		clock:      clock,
		dispatch:   dispatch,
		instanceID: instanceID,
		cfg:        cfg.withDefaults(),
		locks:      map[string]string{},
		stopCh:     make(chan struct{}),
	}
}

func (q *DistributedQueue) pendingKey() string           { return q.prefix + ":pending" }
func (q *DistributedQueue) delayedKey() string           { return q.prefix + ":delayed" }
func (q *DistributedQueue) dlqKey() string                { return q.prefix + ":dlq" }
func (q *DistributedQueue) metaKey(jobID string) string   { return q.prefix + ":meta:" + jobID }
func (q *DistributedQueue) lockKey(jobID string) string   { return q.prefix + ":lock:" + jobID }
func (q *DistributedQueue) cancelKey(jobID string) string {
	return q.prefix + ":cancel:" + jobID
}
func (q *DistributedQueue) userRunningKey(userID string) string {
	return q.prefix + ":running:user:" + userID
}
func (q *DistributedQueue) userQueuedKey(userID string) string {
	return q.prefix + ":queued:user:" + userID
}
func (q *DistributedQueue) globalRunningKey() string { return q.prefix + ":running:global" }

// priorityScore orders pending work highest-priority-first, then
// earliest-submitted-first within a priority tier, matching ZPopMax's
// highest-score-wins semantics.
func priorityScore(priority int, createdMs int64) float64 {
	return float64(priority)*1e15 - float64(createdMs)
}

func (q *DistributedQueue) SubmitJob(ctx context.Context, meta SubmitMeta) error {
	fields := map[string]string{
		"user_id":    meta.UserID,
		"user_role":  meta.UserRole.String(),
		"mode":       meta.Mode.String(),
		"device":     meta.Device.String(),
		"priority":   strconv.Itoa(meta.Priority),
		"created_ms": strconv.FormatInt(meta.CreatedMs, 10),
		"attempts":   "0",
	}
	if err := q.coord.HSet(ctx, q.metaKey(meta.JobID), fields); err != nil {
		return common.Wrap(err, "submit job metadata")
	}
	if err := q.coord.ZAdd(ctx, q.pendingKey(), meta.JobID, priorityScore(meta.Priority, meta.CreatedMs)); err != nil {
		return common.Wrap(err, "enqueue job")
	}
	if err := q.coord.SAdd(ctx, q.userQueuedKey(meta.UserID), meta.JobID); err != nil {
		return common.Wrap(err, "track queued job")
	}
	return nil
}

func (q *DistributedQueue) CancelJob(ctx context.Context, jobID, userID string) error {
	if err := q.coord.ZRem(ctx, q.pendingKey(), jobID); err != nil {
		return common.Wrap(err, "remove from pending")
	}
	if err := q.coord.ZRem(ctx, q.delayedKey(), jobID); err != nil {
		return common.Wrap(err, "remove from delayed")
	}
	if err := q.coord.SRem(ctx, q.userQueuedKey(userID), jobID); err != nil {
		return common.Wrap(err, "untrack queued job")
	}
	// A cancel flag lets a currently-running worker notice at its next
	// stage boundary even though it already holds the lock.
	return q.coord.Expire(ctx, q.cancelKey(jobID), 24*time.Hour)
}

// IsCanceled is polled by JobExecutor between pipeline stages.
func (q *DistributedQueue) IsCanceled(ctx context.Context, jobID string) bool {
	ok, _ := q.coord.Exists(ctx, q.cancelKey(jobID))
	return ok
}

func (q *DistributedQueue) BeforeJobRun(ctx context.Context, jobID, userID string) (bool, error) {
	token := common.NewLockToken()
	ok, err := q.coord.SetNX(ctx, q.lockKey(jobID), token, q.cfg.LockTTL)
	if err != nil {
		return false, common.Wrap(err, "acquire job lock")
	}
	if !ok {
		return false, nil
	}
	q.mu.Lock()
	q.locks[jobID] = token
	q.mu.Unlock()
	if err := q.coord.ZRem(ctx, q.pendingKey(), jobID); err != nil {
		warnf(q.log, "job %s: remove from pending after claim: %v", jobID, err)
	}
	if err := q.coord.SRem(ctx, q.userQueuedKey(userID), jobID); err != nil {
		warnf(q.log, "job %s: untrack queued after claim: %v", jobID, err)
	}
	if err := q.coord.SAdd(ctx, q.userRunningKey(userID), jobID); err != nil {
		warnf(q.log, "job %s: track running: %v", jobID, err)
	}
	if err := q.coord.SAdd(ctx, q.globalRunningKey(), jobID); err != nil {
		warnf(q.log, "job %s: track global running: %v", jobID, err)
	}
	return true, nil
}

func (q *DistributedQueue) AfterJobRun(ctx context.Context, jobID, userID string, final common.JobState, ok bool, runErr error) error {
	q.mu.Lock()
	token, held := q.locks[jobID]
	delete(q.locks, jobID)
	q.mu.Unlock()

	if held {
		_, _ = q.coord.CompareDelete(ctx, q.lockKey(jobID), token)
	}
	_ = q.coord.SRem(ctx, q.userRunningKey(userID), jobID)
	_ = q.coord.SRem(ctx, q.globalRunningKey(), jobID)
	_ = q.coord.Del(ctx, q.cancelKey(jobID))

	if ok || runErr == nil {
		_ = q.coord.HDel(ctx, q.metaKey(jobID))
		return nil
	}

	// Failed run: requeue with backoff, or dead-letter past maxAttempts.
	fields, err := q.coord.HGetAll(ctx, q.metaKey(jobID))
	if err != nil || len(fields) == 0 {
		return nil
	}
	attempts, _ := strconv.Atoi(fields["attempts"])
	attempts++
	fields["attempts"] = strconv.Itoa(attempts)
	_ = q.coord.HSet(ctx, q.metaKey(jobID), fields)

	if attempts >= q.cfg.MaxAttempts {
		_ = q.coord.LPush(ctx, q.dlqKey(), jobID)
		warnf(q.log, "job %s: moved to dead-letter after %d attempts: %v", jobID, attempts, runErr)
		return nil
	}
	// Exponential backoff capped at BackoffCap: base * 2^(attempts-1), per
	// the original queue's delay_ms = min(backoff_cap_ms, base_backoff_ms *
	// (2 ** max(0, attempts-1))).
	exp := attempts - 1
	if exp < 0 {
		exp = 0
	}
	backoff := time.Duration(float64(q.cfg.BaseBackoff) * math.Pow(2, float64(exp)))
	if backoff > q.cfg.BackoffCap {
		backoff = q.cfg.BackoffCap
	}
	readyAt := q.clock.Now().Add(backoff)
	return common.Wrap(q.coord.ZAdd(ctx, q.delayedKey(), jobID, float64(readyAt.UnixMilli())), "defer failed job")
}

func (q *DistributedQueue) UserCounts(ctx context.Context, userID string) (UserCounts, error) {
	running, err := q.coord.SCard(ctx, q.userRunningKey(userID))
	if err != nil {
		return UserCounts{}, err
	}
	queued, err := q.coord.SCard(ctx, q.userQueuedKey(userID))
	if err != nil {
		return UserCounts{}, err
	}
	return UserCounts{Running: int64(running), Queued: int64(queued)}, nil
}

func (q *DistributedQueue) GlobalCounts(ctx context.Context) (GlobalCounts, error) {
	running, err := q.coord.SCard(ctx, q.globalRunningKey())
	if err != nil {
		return GlobalCounts{}, err
	}
	queued, err := q.coord.ZCard(ctx, q.pendingKey())
	if err != nil {
		return GlobalCounts{}, err
	}
	delayed, err := q.coord.ZCard(ctx, q.delayedKey())
	if err != nil {
		return GlobalCounts{}, err
	}
	return GlobalCounts{Running: int64(running), Queued: int64(queued + delayed)}, nil
}

func (q *DistributedQueue) AdminSnapshot(ctx context.Context, limit int) ([]AdminSnapshotEntry, error) {
	// ZRangeByScore is ascending-by-score; pending's highest-priority
	// items carry the highest score, so read everything and reverse.
	all, err := q.coord.ZRangeByScore(ctx, q.pendingKey(), 1e18)
	if err != nil {
		return nil, err
	}
	out := make([]AdminSnapshotEntry, 0, len(all))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		jobID := all[i].Member
		fields, err := q.coord.HGetAll(ctx, q.metaKey(jobID))
		if err != nil || len(fields) == 0 {
			continue
		}
		priority, _ := strconv.Atoi(fields["priority"])
		attempts, _ := strconv.Atoi(fields["attempts"])
		var mode common.Mode
		_ = mode.Parse(fields["mode"])
		out = append(out, AdminSnapshotEntry{
			JobID:    jobID,
			UserID:   fields["user_id"],
			Mode:     mode,
			Priority: priority,
			Attempts: attempts,
		})
	}
	return out, nil
}

func (q *DistributedQueue) AdminSetPriority(ctx context.Context, jobID string, priority int) error {
	fields, err := q.coord.HGetAll(ctx, q.metaKey(jobID))
	if err != nil || len(fields) == 0 {
		return common.ErrConflict("job_not_queued", "priority can only be changed while a job is queued")
	}
	if locked, _ := q.coord.Exists(ctx, q.lockKey(jobID)); locked {
		return common.ErrConflict("job_not_queued", "priority can only be changed while a job is queued")
	}
	createdMs, _ := strconv.ParseInt(fields["created_ms"], 10, 64)
	fields["priority"] = strconv.Itoa(priority)
	if err := q.coord.HSet(ctx, q.metaKey(jobID), fields); err != nil {
		return err
	}
	return q.coord.ZAdd(ctx, q.pendingKey(), jobID, priorityScore(priority, createdMs))
}

func (q *DistributedQueue) Status(ctx context.Context) Status {
	healthy := q.coord.Ping(ctx) == nil
	banner := ""
	if !healthy {
		banner = "distributed coordinator unreachable"
	}
	return Status{Mode: common.EQueueMode.Distributed(), Healthy: healthy, Banner: banner}
}

// Run starts the consume loop, the delayed-item mover, and a lock-refresh
// loop for every job this instance currently holds the lease for.
func (q *DistributedQueue) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); q.consumeLoop(ctx) }()
	go func() { defer wg.Done(); q.delayedMoverLoop(ctx) }()
	go func() { defer wg.Done(); q.lockRefreshLoop(ctx) }()
	wg.Wait()
}

func (q *DistributedQueue) consumeLoop(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			jobID, _, ok, err := q.coord.ZPopMax(ctx, q.pendingKey())
			if err != nil {
				warnf(q.log, "consume: pop pending: %v", err)
				continue
			}
			if !ok {
				continue
			}
			if q.dispatch != nil {
				q.dispatch(ctx, jobID)
			}
		}
	}
}

func (q *DistributedQueue) delayedMoverLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			nowMs := float64(q.clock.Now().UnixMilli())
			ready, err := q.coord.ZRangeByScore(ctx, q.delayedKey(), nowMs)
			if err != nil {
				continue
			}
			for _, r := range ready {
				fields, err := q.coord.HGetAll(ctx, q.metaKey(r.Member))
				if err != nil || len(fields) == 0 {
					_ = q.coord.ZRem(ctx, q.delayedKey(), r.Member)
					continue
				}
				priority, _ := strconv.Atoi(fields["priority"])
				createdMs, _ := strconv.ParseInt(fields["created_ms"], 10, 64)
				if err := q.coord.ZAdd(ctx, q.pendingKey(), r.Member, priorityScore(priority, createdMs)); err != nil {
					continue
				}
				_ = q.coord.ZRem(ctx, q.delayedKey(), r.Member)
			}
		}
	}
}

func (q *DistributedQueue) lockRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.LockRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.mu.Lock()
			held := make(map[string]string, len(q.locks))
			for k, v := range q.locks {
				held[k] = v
			}
			q.mu.Unlock()
			for jobID, token := range held {
				ok, err := q.coord.CompareExpire(ctx, q.lockKey(jobID), token, q.cfg.LockTTL)
				if err != nil || !ok {
					warnf(q.log, "job %s: lost lock lease during refresh", jobID)
				}
			}
		}
	}
}

func (q *DistributedQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}
