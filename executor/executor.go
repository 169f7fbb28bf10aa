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

// Package executor implements the worker loop of spec.md §4.10: claim,
// before-run, run the external pipeline's staged progress stream, after-run.
// Concurrency across workers is bounded with golang.org/x/sync/semaphore,
// the same primitive the teacher reaches for to cap in-flight chunk uploads
// (ste/concurrency.go's gr pool is hand-rolled; the rest of the pack's
// daemon-style services use the semaphore package directly for this).
package executor

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/policy"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/queue"
)

// ProgressEvent is one update emitted by the external pipeline collaborator.
type ProgressEvent struct {
	Progress float64 // 0..1
	Message  string
}

// Pipeline is the opaque external collaborator spec.md §1 carves out: the
// actual ASR/translation/TTS/muxing stages. JobExecutor only knows how to
// drive it and translate its progress stream into StateStore updates.
type Pipeline interface {
	// Run executes job's pipeline, emitting events on progress as it goes,
	// and returns when finished or ctx is canceled. Canceling ctx must
	// cause Run to return promptly at the next stage boundary.
	Run(ctx context.Context, job *common.Job, progress chan<- ProgressEvent) error
}

// Store is the narrow StateStore surface JobExecutor depends on.
type Store interface {
	GetJob(id string) (*common.Job, bool)
	UpdateJob(id string, fn func(*common.Job) error) (*common.Job, error)
}

// Backend is the narrow QueueBackend surface JobExecutor depends on; it is
// satisfied by queue.DistributedQueue, queue.LocalQueue, and queue.AutoQueue.
// It reuses queue.UserCounts verbatim (rather than a locally-declared
// lookalike struct) because Go requires the exact named return type for a
// concrete method to satisfy an interface, not mere structural equality.
type Backend interface {
	BeforeJobRun(ctx context.Context, jobID, userID string) (bool, error)
	AfterJobRun(ctx context.Context, jobID, userID string, final common.JobState, ok bool, runErr error) error
	UserCounts(ctx context.Context, userID string) (queue.UserCounts, error)
}

// RoleLookup resolves the submitting user's role for the dispatch-time
// policy check; HTTPAPI's authenticator is the only other place a user's
// role is known, so JobExecutor gets it through this callback instead of
// duplicating an auth lookup.
type RoleLookup func(ctx context.Context, userID string) (common.Role, error)

// CancelChecker optionally reports whether a running job has been flagged
// for cancellation out-of-band (DistributedQueue's coordinator-held cancel
// key). LocalQueue jobs are canceled by the StateStore state transition
// alone, so this is optional.
type CancelChecker interface {
	IsCanceled(ctx context.Context, jobID string) bool
}

// Executor runs claimed jobs against Pipeline, bounded to at most
// WorkerCount concurrent pipeline invocations.
type Executor struct {
	store   Store
	backend Backend
	cancels CancelChecker // may be nil
	roles   RoleLookup    // may be nil; nil means every caller is treated as Operator
	pipe    Pipeline
	log     common.ILogger
	clock   common.Clock

	quotas       queue.QuotaLookup // may be nil; falls back to defaultQuota
	defaultQuota common.QuotaSnapshot

	gpuAvailable      bool
	highModeGlobalCap int64
	highModeRunning   int64 // atomic; per-process approximation, see DESIGN.md

	sem            *semaphore.Weighted
	progressMinGap time.Duration
}

// Config bundles the dispatch-policy inputs that do not vary per job.
type Config struct {
	WorkerCount       int
	GPUAvailable      bool
	HighModeGlobalCap int64
	Quotas            queue.QuotaLookup
	DefaultQuota      common.QuotaSnapshot
}

func New(store Store, backend Backend, cancels CancelChecker, roles RoleLookup, pipe Pipeline, log common.ILogger, clock common.Clock, cfg Config) *Executor {
	if clock == nil {
		clock = common.RealClock
	}
	if log == nil {
		log = common.NopLogger
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	return &Executor{
		store:             store,
		backend:           backend,
		cancels:           cancels,
		roles:             roles,
		pipe:              pipe,
		log:               log,
		clock:             clock,
		gpuAvailable:      cfg.GPUAvailable,
		highModeGlobalCap: cfg.HighModeGlobalCap,
		quotas:            cfg.Quotas,
		defaultQuota:      cfg.DefaultQuota,
		sem:               semaphore.NewWeighted(int64(cfg.WorkerCount)),
		progressMinGap:    500 * time.Millisecond,
	}
}

// Dispatch is the queue.Dispatcher callback: it acquires a worker slot (or
// drops the job back for the next tick if all workers are busy) and runs it
// in its own goroutine so the queue's consume loop is never blocked on
// pipeline execution.
func (e *Executor) Dispatch(ctx context.Context, jobID string) {
	if !e.sem.TryAcquire(1) {
		e.log.Log(common.LogDebug, "executor: all workers busy, job "+jobID+" stays pending")
		return
	}
	go func() {
		defer e.sem.Release(1)
		e.run(ctx, jobID)
	}()
}

func (e *Executor) run(ctx context.Context, jobID string) {
	job, ok := e.store.GetJob(jobID)
	if !ok {
		e.log.Log(common.LogWarning, "executor: claimed job "+jobID+" missing from state store")
		return
	}

	claimed, err := e.backend.BeforeJobRun(ctx, jobID, job.OwnerID)
	if err != nil {
		e.log.Log(common.LogWarning, "executor: before_run failed for "+jobID+": "+err.Error())
		return
	}
	if !claimed {
		return // another worker (or process) already holds the lock
	}

	decision, err := e.evaluateDispatch(ctx, job)
	if err != nil {
		e.log.Log(common.LogWarning, "executor: dispatch policy lookup failed for "+jobID+": "+err.Error())
		_ = e.backend.AfterJobRun(ctx, jobID, job.OwnerID, job.State, false, err)
		return
	}
	if !decision.OK {
		// Over the concurrency cap right now; give the lock back so the
		// queue's normal retry/backoff path picks the job up again later.
		_ = e.backend.AfterJobRun(ctx, jobID, job.OwnerID, job.State, false,
			common.ErrQuota("concurrency_cap", 0, 0, 5))
		return
	}
	if decision.EffectiveMode == common.EMode.High() {
		atomic.AddInt64(&e.highModeRunning, 1)
		defer atomic.AddInt64(&e.highModeRunning, -1)
	}

	job, err = e.store.UpdateJob(jobID, func(j *common.Job) error {
		j.Mode = decision.EffectiveMode
		j.Device = decision.EffectiveDevice
		if j.State.IsTerminal() {
			return nil
		}
		return j.ApplyTransition(common.EJobState.Running(), e.clock.Now())
	})
	if err != nil {
		_ = e.backend.AfterJobRun(ctx, jobID, job.OwnerID, common.EJobState.Failed(), false, err)
		return
	}
	if job.State != common.EJobState.Running() {
		// Already terminal (e.g. canceled while waiting for the lock).
		_ = e.backend.AfterJobRun(ctx, jobID, job.OwnerID, job.State, true, nil)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	progress := make(chan ProgressEvent, 8)
	done := make(chan error, 1)
	go func() { done <- e.pipe.Run(runCtx, job, progress) }()

	lastFlush := time.Time{}
	var runErr error
loop:
	for {
		select {
		case ev, chOK := <-progress:
			if !chOK {
				progress = nil
				continue
			}
			now := e.clock.Now()
			if now.Sub(lastFlush) < e.progressMinGap {
				continue
			}
			lastFlush = now
			_, _ = e.store.UpdateJob(jobID, func(j *common.Job) error {
				j.Progress = ev.Progress
				j.Message = ev.Message
				j.Touch(now)
				return nil
			})
			if e.isCanceled(ctx, jobID, job.OwnerID) {
				cancel()
			}
		case runErr = <-done:
			break loop
		case <-time.After(2 * time.Second):
			if e.isCanceled(ctx, jobID, job.OwnerID) {
				cancel()
			}
		}
	}

	final := common.EJobState.Done()
	ok = true
	if runErr != nil {
		if runCtx.Err() != nil {
			final = common.EJobState.Canceled()
		} else {
			final = common.EJobState.Failed()
			ok = false
		}
	}

	_, uerr := e.store.UpdateJob(jobID, func(j *common.Job) error {
		if j.State.IsTerminal() {
			return nil
		}
		if err := j.ApplyTransition(final, e.clock.Now()); err != nil {
			return err
		}
		if final == common.EJobState.Done() {
			j.Progress = 1
		}
		if runErr != nil {
			j.Error = runErr.Error()
		}
		return nil
	})
	if uerr != nil {
		e.log.Log(common.LogWarning, "executor: final state update failed for "+jobID+": "+uerr.Error())
	}

	if err := e.backend.AfterJobRun(ctx, jobID, job.OwnerID, final, ok, runErr); err != nil {
		e.log.Log(common.LogWarning, "executor: after_run failed for "+jobID+": "+err.Error())
	}
}

// evaluateDispatch applies spec.md §4.7's dispatch-time rules: device
// auto-resolution, high-mode downgrade, and the per-user concurrency cap.
func (e *Executor) evaluateDispatch(ctx context.Context, job *common.Job) (policy.Decision, error) {
	role := common.ERole.Operator()
	if e.roles != nil {
		r, err := e.roles(ctx, job.OwnerID)
		if err != nil {
			return policy.Decision{}, err
		}
		role = r
	}
	counts, err := e.backend.UserCounts(ctx, job.OwnerID)
	if err != nil {
		return policy.Decision{}, err
	}
	quota, _, err := e.lookupQuota(ctx, job.OwnerID)
	if err != nil {
		return policy.Decision{}, err
	}
	return policy.EvaluateDispatch(policy.DispatchInput{
		Role:              role,
		RequestedMode:     job.Mode,
		RequestedDevice:   job.Device,
		GPUAvailable:      e.gpuAvailable,
		UserCounts:        policy.Counts{Running: counts.Running, Queued: counts.Queued},
		Quota:             quota,
		HighModeRunning:   atomic.LoadInt64(&e.highModeRunning),
		HighModeGlobalCap: e.highModeGlobalCap,
	}), nil
}

// lookupQuota resolves the merged QuotaSnapshot used by the concurrency
// check. Submission time already reserved against it; dispatch time only
// reads it, so a nil QuotaLookup (no admin override store wired in) is
// treated as "use the process-wide defaults", matching spec.md's merge
// rule of role defaults with no override present.
func (e *Executor) lookupQuota(ctx context.Context, userID string) (common.QuotaSnapshot, bool, error) {
	if e.quotas == nil {
		return e.defaultQuota, false, nil
	}
	return e.quotas(ctx, userID)
}

func (e *Executor) isCanceled(ctx context.Context, jobID, ownerID string) bool {
	if e.cancels != nil && e.cancels.IsCanceled(ctx, jobID) {
		return true
	}
	j, ok := e.store.GetJob(jobID)
	return ok && j.State == common.EJobState.Canceled()
}
