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

// Package quota implements the request-scoped reservation protocol of
// spec.md §4.8. Reservations are two-phase (reserve now, release on any
// error path) to avoid races across concurrent submissions from the same
// user.
package quota

import (
	"context"
	"sync"
	"time"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/coordinator"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
)

// JobCounter abstracts the StateStore-derived fallback count used when no
// coordinator is configured.
type JobCounter interface {
	CountJobsToday(userID string, now time.Time) int64
}

// Reservation is returned by every reserve* call. Release must be invoked on
// every return path, including error paths, per spec.md §4.8.
type Reservation struct {
	release func(n int64)
	n       int64
	done    bool
	mu      sync.Mutex
}

// Release gives back the reservation (idempotent).
func (r *Reservation) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done || r.release == nil {
		return
	}
	r.release(r.n)
	r.done = true
}

// Enforcer is built once per process (cmd/serve.go) and shared by all
// requests; its counters live on the instance, not in package-level state.
type Enforcer struct {
	coord      coordinator.Coordinator // may be nil
	counter    JobCounter
	prefix     string
	clock      common.Clock

	storageMu      sync.Mutex
	pendingStorage map[string]int64 // userID -> pending reserved bytes, process-local

	localDailyMu sync.Mutex
	localDaily   map[string]dailyCounter
}

type dailyCounter struct {
	day   string
	count int64
}

func NewEnforcer(coord coordinator.Coordinator, counter JobCounter, prefix string, clock common.Clock) *Enforcer {
	if clock == nil {
		clock = common.RealClock
	}
	return &Enforcer{
		coord:          coord,
		counter:        counter,
		prefix:         prefix,
		clock:          clock,
		pendingStorage: map[string]int64{},
		localDaily:     map[string]dailyCounter{},
	}
}

func (e *Enforcer) dailyKey(userID string, day string) string {
	return e.prefix + ":quota:" + userID + ":daily:" + day
}

// ReserveDailyJobs atomically increments a per-user per-UTC-day counter,
// only committing the increment if the result does not exceed limit. When no
// coordinator is configured it falls back to an in-process mutex-guarded
// counter combined with the StateStore job count for today, as spec.md §4.8
// requires.
func (e *Enforcer) ReserveDailyJobs(ctx context.Context, userID string, count, limit int64) (*Reservation, error) {
	now := e.clock.Now()
	resetSeconds := common.SecondsUntilNextUTCMidnight(now)

	if e.coord != nil {
		key := e.dailyKey(userID, now.Format("2006-01-02"))
		ttl := time.Duration(resetSeconds) * time.Second
		val, err := e.coord.IncrBy(ctx, key, count, ttl)
		if err != nil {
			return nil, common.Wrap(err, "reserve daily jobs")
		}
		if val > limit {
			_, _ = e.coord.IncrBy(ctx, key, -count, ttl)
			return nil, common.ErrQuota("jobs_per_day_limit", limit, limit-(val-count), resetSeconds)
		}
		return &Reservation{n: count, release: func(n int64) {
			_, _ = e.coord.IncrBy(context.Background(), key, -n, ttl)
		}}, nil
	}

	e.localDailyMu.Lock()
	defer e.localDailyMu.Unlock()
	day := now.Format("2006-01-02")
	dc := e.localDaily[userID]
	if dc.day != day {
		dc = dailyCounter{day: day}
	}
	base := int64(0)
	if e.counter != nil {
		base = e.counter.CountJobsToday(userID, now)
	}
	if base+dc.count+count > limit {
		return nil, common.ErrQuota("jobs_per_day_limit", limit, limit-base-dc.count, resetSeconds)
	}
	dc.count += count
	e.localDaily[userID] = dc
	return &Reservation{n: count, release: func(n int64) {
		e.localDailyMu.Lock()
		defer e.localDailyMu.Unlock()
		cur := e.localDaily[userID]
		if cur.day == day {
			cur.count -= n
			e.localDaily[userID] = cur
		}
	}}, nil
}

// ReserveStorageBytes checks used+pending+n <= max and, if so, adds n to a
// process-local pending counter for userID.
func (e *Enforcer) ReserveStorageBytes(userID string, used, n, max int64) (*Reservation, error) {
	e.storageMu.Lock()
	defer e.storageMu.Unlock()
	pending := e.pendingStorage[userID]
	if used+pending+n > max {
		return nil, common.ErrQuota("max_storage_bytes_limit", max, max-used-pending, 0)
	}
	e.pendingStorage[userID] = pending + n
	return &Reservation{n: n, release: func(v int64) {
		e.storageMu.Lock()
		defer e.storageMu.Unlock()
		e.pendingStorage[userID] -= v
	}}, nil
}

// Resolve merges role/process defaults with a per-user override record,
// producing the request-scoped QuotaSnapshot of spec.md §3. Any nil field on
// override leaves the corresponding default untouched.
func Resolve(defaults common.QuotaSnapshot, override common.UserQuotaOverride) common.QuotaSnapshot {
	snap := defaults
	if override.MaxRunning != nil {
		snap.MaxConcurrentJobs = *override.MaxRunning
	}
	if override.MaxQueued != nil {
		snap.MaxQueuedJobs = *override.MaxQueued
	}
	if override.JobsPerDay != nil {
		snap.JobsPerDay = *override.JobsPerDay
	}
	if override.MaxStorageBytes != nil {
		snap.MaxStorageBytes = *override.MaxStorageBytes
	}
	return snap
}

// RequireUploadBytes rejects early when total exceeds the per-upload limit.
func RequireUploadBytes(total, maxUpload int64) error {
	if total > maxUpload {
		return common.ErrTooLarge("upload exceeds max_upload_bytes")
	}
	return nil
}

// RequireUploadProgress is rechecked as each chunk is written.
func RequireUploadProgress(written, total, maxUpload int64) error {
	if written > total || written > maxUpload {
		return common.ErrTooLarge("upload exceeds declared total_bytes")
	}
	return nil
}

// RequireConcurrentJobs denies dispatch if the user is already at the
// concurrency cap.
func RequireConcurrentJobs(running, maxConcurrent int64) error {
	if running >= maxConcurrent {
		return common.ErrQuota("max_concurrent_jobs_limit", maxConcurrent, 0, 0)
	}
	return nil
}
