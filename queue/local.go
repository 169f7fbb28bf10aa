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
	"sort"
	"sync"
	"time"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/statestore"
)

// localBackingStore is the narrow slice of *statestore.Store LocalQueue
// needs; kept as an interface so tests can supply a fake without dragging in
// the file-locked real store.
type localBackingStore interface {
	ListJobs(limit int, filter statestore.JobFilter) []*common.Job
	UpdateJob(id string, fn func(*common.Job) error) (*common.Job, error)
}

// LocalQueue is the single-process QueueBackend fallback of spec.md §4.5: it
// has no coordinator dependency at all and derives ordering purely by
// scanning StateStore for QUEUED jobs. Because a single process is the only
// writer, claiming a job is just an atomic StateStore state transition
// QUEUED -> RUNNING; no separate lock key is needed.
type LocalQueue struct {
	store    localBackingStore
	log      common.ILogger
	clock    common.Clock
	dispatch Dispatcher

	mu          sync.Mutex
	userRunning map[string]map[string]struct{}
	globalRun   map[string]struct{}
	stopOnce    sync.Once
	stopCh      chan struct{}
}

func NewLocalQueue(store localBackingStore, log common.ILogger, clock common.Clock, dispatch Dispatcher) *LocalQueue {
	if clock == nil {
		clock = common.RealClock
	}
	if log == nil {
		log = common.NopLogger
	}
	return &LocalQueue{
		store:       store,
		log:         log,
		clock:       clock,
		dispatch:    dispatch,
		userRunning: map[string]map[string]struct{}{},
		globalRun:   map[string]struct{}{},
		stopCh:      make(chan struct{}),
	}
}

func (q *LocalQueue) SubmitJob(ctx context.Context, meta SubmitMeta) error {
	// StateStore already holds the job in QUEUED state by the time
	// HTTPAPI calls SubmitJob; LocalQueue needs no separate enqueue
	// record, it simply scans for QUEUED jobs each tick.
	return nil
}

func (q *LocalQueue) CancelJob(ctx context.Context, jobID, userID string) error {
	_, err := q.store.UpdateJob(jobID, func(j *common.Job) error {
		return j.ApplyTransition(common.EJobState.Canceled(), q.clock.Now())
	})
	return err
}

func (q *LocalQueue) BeforeJobRun(ctx context.Context, jobID, userID string) (bool, error) {
	_, err := q.store.UpdateJob(jobID, func(j *common.Job) error {
		return j.ApplyTransition(common.EJobState.Running(), q.clock.Now())
	})
	if err != nil {
		return false, nil
	}
	q.mu.Lock()
	if q.userRunning[userID] == nil {
		q.userRunning[userID] = map[string]struct{}{}
	}
	q.userRunning[userID][jobID] = struct{}{}
	q.globalRun[jobID] = struct{}{}
	q.mu.Unlock()
	return true, nil
}

func (q *LocalQueue) AfterJobRun(ctx context.Context, jobID, userID string, final common.JobState, ok bool, runErr error) error {
	q.mu.Lock()
	delete(q.userRunning[userID], jobID)
	delete(q.globalRun, jobID)
	q.mu.Unlock()
	return nil
}

func (q *LocalQueue) UserCounts(ctx context.Context, userID string) (UserCounts, error) {
	q.mu.Lock()
	running := int64(len(q.userRunning[userID]))
	q.mu.Unlock()
	state := common.EJobState.Queued()
	queued := q.store.ListJobs(0, statestore.JobFilter{OwnerID: userID, State: &state})
	return UserCounts{Running: running, Queued: int64(len(queued))}, nil
}

func (q *LocalQueue) GlobalCounts(ctx context.Context) (GlobalCounts, error) {
	q.mu.Lock()
	running := int64(len(q.globalRun))
	q.mu.Unlock()
	state := common.EJobState.Queued()
	queued := q.store.ListJobs(0, statestore.JobFilter{State: &state})
	return GlobalCounts{Running: running, Queued: int64(len(queued))}, nil
}

func (q *LocalQueue) AdminSnapshot(ctx context.Context, limit int) ([]AdminSnapshotEntry, error) {
	state := common.EJobState.Queued()
	jobs := q.store.ListJobs(limit, statestore.JobFilter{State: &state})
	out := make([]AdminSnapshotEntry, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, AdminSnapshotEntry{
			JobID:    j.ID,
			UserID:   j.OwnerID,
			Mode:     j.Mode,
			Priority: j.Priority,
			Attempts: j.Attempts,
		})
	}
	return out, nil
}

func (q *LocalQueue) AdminSetPriority(ctx context.Context, jobID string, priority int) error {
	_, err := q.store.UpdateJob(jobID, func(j *common.Job) error {
		if j.State != common.EJobState.Queued() {
			return common.ErrConflict("job_not_queued", "priority can only be changed while a job is queued")
		}
		j.Priority = priority
		return nil
	})
	return err
}

func (q *LocalQueue) Status(ctx context.Context) Status {
	return Status{Mode: common.EQueueMode.Local(), Healthy: true}
}

// Run scans for the highest-priority QUEUED job once per tick and dispatches
// it; this mirrors the teacher's single-goroutine jobsAdmin scheduling loop
// with StateStore standing in for the part-plan file.
func (q *LocalQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			state := common.EJobState.Queued()
			jobs := q.store.ListJobs(0, statestore.JobFilter{State: &state})
			if len(jobs) == 0 {
				continue
			}
			sort.SliceStable(jobs, func(i, k int) bool {
				if jobs[i].Priority != jobs[k].Priority {
					return jobs[i].Priority > jobs[k].Priority
				}
				return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
			})
			if q.dispatch != nil {
				q.dispatch(ctx, jobs[0].ID)
			}
		}
	}
}

func (q *LocalQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}
