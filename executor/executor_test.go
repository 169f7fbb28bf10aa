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

package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/queue"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/statestore"
)

// fakeBackend is a minimal queue.Backend stand-in scoped to the three methods
// Executor actually calls, so tests can drive before/after-run outcomes and
// user counts directly without standing up a full QueueBackend.
type fakeBackend struct {
	mu             sync.Mutex
	beforeOK       bool
	beforeErr      error
	counts         queue.UserCounts
	afterCalls     []afterCall
}

type afterCall struct {
	jobID   string
	final   common.JobState
	ok      bool
	runErr  error
}

func (f *fakeBackend) BeforeJobRun(ctx context.Context, jobID, userID string) (bool, error) {
	return f.beforeOK, f.beforeErr
}
func (f *fakeBackend) AfterJobRun(ctx context.Context, jobID, userID string, final common.JobState, ok bool, runErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterCalls = append(f.afterCalls, afterCall{jobID, final, ok, runErr})
	return nil
}
func (f *fakeBackend) UserCounts(ctx context.Context, userID string) (queue.UserCounts, error) {
	return f.counts, nil
}

func (f *fakeBackend) lastAfter() (afterCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.afterCalls) == 0 {
		return afterCall{}, false
	}
	return f.afterCalls[len(f.afterCalls)-1], true
}

// scriptedPipeline emits a fixed progress sequence then returns runErr, or
// blocks until ctx is canceled if block is true (to exercise cancellation).
type scriptedPipeline struct {
	events  []ProgressEvent
	runErr  error
	block   bool
}

func (p *scriptedPipeline) Run(ctx context.Context, job *common.Job, progress chan<- ProgressEvent) error {
	for _, ev := range p.events {
		select {
		case progress <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.runErr
}

func newTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	s, err := statestore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func waitForTerminal(t *testing.T, store *statestore.Store, jobID string) *common.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := store.GetJob(jobID)
		require.True(t, ok)
		if job.State.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestDispatchSkipsWhenAllWorkersBusy(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.PutJob(&common.Job{ID: "j1", OwnerID: "u1", State: common.EJobState.Queued()}))

	backend := &fakeBackend{beforeOK: true}
	pipe := &scriptedPipeline{block: true}
	ex := New(store, backend, nil, nil, pipe, nil, common.RealClock, Config{WorkerCount: 1})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ex.Dispatch(ctx, "j1")
	time.Sleep(50 * time.Millisecond) // let the first dispatch occupy the one slot

	ex.Dispatch(ctx, "nonexistent-should-be-skipped")
	// The second call either returns immediately (slot busy) or finds the job
	// missing; either way it must not panic or block the test.
}

func TestRunSuccessTransitionsJobToDoneAndReleasesLock(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.PutJob(&common.Job{
		ID: "j1", OwnerID: "u1", State: common.EJobState.Queued(),
		Mode: common.EMode.Medium(), Device: common.EDevice.Auto(),
	}))

	backend := &fakeBackend{beforeOK: true, counts: queue.UserCounts{Running: 0, Queued: 1}}
	pipe := &scriptedPipeline{events: []ProgressEvent{{Progress: 0.5, Message: "halfway"}}}
	ex := New(store, backend, nil, nil, pipe, nil, common.RealClock, Config{
		WorkerCount: 2,
		DefaultQuota: common.QuotaSnapshot{MaxConcurrentJobs: 5, MaxQueuedJobs: 5, JobsPerDay: 100, MaxStorageBytes: 1 << 30},
	})
	ex.progressMinGap = 0

	ex.Dispatch(context.Background(), "j1")

	final := waitForTerminal(t, store, "j1")
	assert.Equal(t, common.EJobState.Done(), final.State)
	assert.Equal(t, float64(1), final.Progress)

	after, ok := backend.lastAfter()
	require.True(t, ok)
	assert.True(t, after.ok)
	assert.Equal(t, common.EJobState.Done(), after.final)
}

func TestRunFailurePropagatesErrorMessage(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.PutJob(&common.Job{
		ID: "j1", OwnerID: "u1", State: common.EJobState.Queued(),
		Mode: common.EMode.Medium(), Device: common.EDevice.Auto(),
	}))

	backend := &fakeBackend{beforeOK: true}
	pipe := &scriptedPipeline{runErr: errors.New("pipeline exploded")}
	ex := New(store, backend, nil, nil, pipe, nil, common.RealClock, Config{
		WorkerCount:  2,
		DefaultQuota: common.QuotaSnapshot{MaxConcurrentJobs: 5, MaxQueuedJobs: 5, JobsPerDay: 100, MaxStorageBytes: 1 << 30},
	})

	ex.Dispatch(context.Background(), "j1")

	final := waitForTerminal(t, store, "j1")
	assert.Equal(t, common.EJobState.Failed(), final.State)
	assert.Equal(t, "pipeline exploded", final.Error)

	after, ok := backend.lastAfter()
	require.True(t, ok)
	assert.False(t, after.ok)
}

func TestRunReleasesLockWithoutStartingWhenConcurrencyCapped(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.PutJob(&common.Job{
		ID: "j1", OwnerID: "u1", State: common.EJobState.Queued(),
		Mode: common.EMode.Medium(), Device: common.EDevice.Auto(),
	}))

	backend := &fakeBackend{beforeOK: true, counts: queue.UserCounts{Running: 5, Queued: 0}}
	pipe := &scriptedPipeline{}
	ex := New(store, backend, nil, nil, pipe, nil, common.RealClock, Config{
		WorkerCount:  2,
		DefaultQuota: common.QuotaSnapshot{MaxConcurrentJobs: 5, MaxQueuedJobs: 5, JobsPerDay: 100, MaxStorageBytes: 1 << 30},
	})

	ex.Dispatch(context.Background(), "j1")
	time.Sleep(100 * time.Millisecond)

	job, ok := store.GetJob("j1")
	require.True(t, ok)
	assert.Equal(t, common.EJobState.Queued(), job.State, "a concurrency-capped job must stay queued, not be marked running")

	after, found := backend.lastAfter()
	require.True(t, found)
	assert.False(t, after.ok)
}

func TestRunSkipsWhenBeforeJobRunCannotClaim(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.PutJob(&common.Job{ID: "j1", OwnerID: "u1", State: common.EJobState.Queued()}))

	backend := &fakeBackend{beforeOK: false}
	pipe := &scriptedPipeline{}
	ex := New(store, backend, nil, nil, pipe, nil, common.RealClock, Config{WorkerCount: 2})

	ex.Dispatch(context.Background(), "j1")
	time.Sleep(100 * time.Millisecond)

	job, ok := store.GetJob("j1")
	require.True(t, ok)
	assert.Equal(t, common.EJobState.Queued(), job.State)

	_, found := backend.lastAfter()
	assert.False(t, found, "AfterJobRun must not be called when the lock was never claimed")
}

type alwaysCanceled struct{}

func (alwaysCanceled) IsCanceled(ctx context.Context, jobID string) bool { return true }

func TestRunCancelCheckerStopsPipelinePromptly(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.PutJob(&common.Job{
		ID: "j1", OwnerID: "u1", State: common.EJobState.Queued(),
		Mode: common.EMode.Medium(), Device: common.EDevice.Auto(),
	}))

	backend := &fakeBackend{beforeOK: true, counts: queue.UserCounts{Running: 0, Queued: 1}}
	pipe := &scriptedPipeline{events: []ProgressEvent{{Progress: 0.1, Message: "starting"}}, block: true}
	ex := New(store, backend, alwaysCanceled{}, nil, pipe, nil, common.RealClock, Config{
		WorkerCount:  2,
		DefaultQuota: common.QuotaSnapshot{MaxConcurrentJobs: 5, MaxQueuedJobs: 5, JobsPerDay: 100, MaxStorageBytes: 1 << 30},
	})
	ex.progressMinGap = 0

	ex.Dispatch(context.Background(), "j1")

	final := waitForTerminal(t, store, "j1")
	assert.Equal(t, common.EJobState.Canceled(), final.State)
}
