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
	"sync"
	"sync/atomic"
	"time"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
)

const (
	healthCheckEvery  = 5 * time.Second
	unhealthyToSwitch = 3 // consecutive failed pings before falling back to local
	healthyToRestore  = 3 // consecutive successful pings before switching back
)

// AutoQueue wraps a DistributedQueue and a LocalQueue, picking whichever one
// is active by polling the distributed backend's health and switching over
// only after several consecutive pings agree, to avoid flapping on one
// transient blip (spec.md §4.6).
type AutoQueue struct {
	distributed *DistributedQueue
	local       *LocalQueue
	log         common.ILogger

	mu      sync.RWMutex
	active  Backend
	onLocal bool

	badStreak  int
	goodStreak int

	stopOnce sync.Once
	stopCh   chan struct{}

	switches int64
}

func NewAutoQueue(distributed *DistributedQueue, local *LocalQueue, log common.ILogger) *AutoQueue {
	if log == nil {
		log = common.NopLogger
	}
	return &AutoQueue{
		distributed: distributed,
		local:       local,
		log:         log,
		active:      distributed,
		stopCh:      make(chan struct{}),
	}
}

func (a *AutoQueue) current() Backend {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

func (a *AutoQueue) SubmitJob(ctx context.Context, meta SubmitMeta) error {
	return a.current().SubmitJob(ctx, meta)
}
func (a *AutoQueue) CancelJob(ctx context.Context, jobID, userID string) error {
	return a.current().CancelJob(ctx, jobID, userID)
}
func (a *AutoQueue) BeforeJobRun(ctx context.Context, jobID, userID string) (bool, error) {
	return a.current().BeforeJobRun(ctx, jobID, userID)
}
func (a *AutoQueue) AfterJobRun(ctx context.Context, jobID, userID string, final common.JobState, ok bool, runErr error) error {
	return a.current().AfterJobRun(ctx, jobID, userID, final, ok, runErr)
}
func (a *AutoQueue) UserCounts(ctx context.Context, userID string) (UserCounts, error) {
	return a.current().UserCounts(ctx, userID)
}
func (a *AutoQueue) GlobalCounts(ctx context.Context) (GlobalCounts, error) {
	return a.current().GlobalCounts(ctx)
}
func (a *AutoQueue) AdminSnapshot(ctx context.Context, limit int) ([]AdminSnapshotEntry, error) {
	return a.current().AdminSnapshot(ctx, limit)
}
func (a *AutoQueue) AdminSetPriority(ctx context.Context, jobID string, priority int) error {
	return a.current().AdminSetPriority(ctx, jobID, priority)
}

func (a *AutoQueue) Status(ctx context.Context) Status {
	s := a.current().Status(ctx)
	s.Mode = common.EQueueMode.Auto()
	return s
}

// SwitchCount reports how many times the health loop has flipped the active
// backend, for metrics/observability.
func (a *AutoQueue) SwitchCount() int64 { return atomic.LoadInt64(&a.switches) }

// Run starts both backends' own loops plus the health-polling goroutine that
// flips `active` between them.
func (a *AutoQueue) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); a.distributed.Run(ctx) }()
	go func() { defer wg.Done(); a.local.Run(ctx) }()
	go func() { defer wg.Done(); a.healthLoop(ctx) }()
	wg.Wait()
}

func (a *AutoQueue) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			healthy := a.distributed.Status(ctx).Healthy
			a.mu.Lock()
			if healthy {
				a.badStreak = 0
				a.goodStreak++
				if a.onLocal && a.goodStreak >= healthyToRestore {
					a.active = a.distributed
					a.onLocal = false
					atomic.AddInt64(&a.switches, 1)
					a.log.Log(common.LogWarning, "queue: coordinator healthy again, switching back to distributed mode")
				}
			} else {
				a.goodStreak = 0
				a.badStreak++
				if !a.onLocal && a.badStreak >= unhealthyToSwitch {
					a.active = a.local
					a.onLocal = true
					atomic.AddInt64(&a.switches, 1)
					a.log.Log(common.LogWarning, "queue: coordinator unhealthy, falling back to local mode")
				}
			}
			a.mu.Unlock()
		}
	}
}

func (a *AutoQueue) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.distributed.Stop()
	a.local.Stop()
}

var _ Backend = (*AutoQueue)(nil)
var _ Backend = (*DistributedQueue)(nil)
var _ Backend = (*LocalQueue)(nil)
