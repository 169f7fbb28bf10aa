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

// Package queue implements the QueueBackend abstraction of spec.md §4.3 and
// its two interchangeable implementations plus the health-tracking
// auto-switch (§4.4-§4.6). Represented as a tagged variant (Backend
// interface with exactly three concrete types), not a class hierarchy, per
// spec.md §9's "dynamic dispatch" design note.
package queue

import (
	"context"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
)

// UserCounts is the {running, queued} pair for one user.
type UserCounts struct {
	Running int64
	Queued  int64
}

// GlobalCounts is the cluster-wide {running, queued} pair.
type GlobalCounts struct {
	Running int64
	Queued  int64
}

// SubmitMeta is the per-job metadata hash spec.md §4.4 stores alongside the
// pending/delayed entry.
type SubmitMeta struct {
	JobID     string
	UserID    string
	UserRole  common.Role
	Mode      common.Mode
	Device    common.Device
	Priority  int
	CreatedMs int64
}

// AdminSnapshotEntry is one row of the admin queue view.
type AdminSnapshotEntry struct {
	JobID    string
	UserID   string
	Mode     common.Mode
	Priority int
	Attempts int
	Delayed  bool
}

// Status is the UI-facing health/mode summary (spec.md §4.3).
type Status struct {
	Mode    common.QueueMode
	Healthy bool
	Banner  string
}

// Dispatcher is invoked by the consume loop with a successfully claimed job
// id; it is the callback JobExecutor registers to actually run the job,
// mirroring the teacher's jobsAdmin-to-ste callback wiring.
type Dispatcher func(ctx context.Context, jobID string)

// StateAccessor is the narrow callback spec.md §9 prescribes to break the
// HTTPAPI/QueueBackend/StateStore dependency cycle: QueueBackend never reads
// job metadata directly from StateStore, only through this function.
type StateAccessor func(jobID string) (common.JobState, bool)

// QuotaLookup resolves a user's merged QuotaSnapshot, used by the dispatch
// policy check inside before_job_run.
type QuotaLookup func(ctx context.Context, userID string) (common.QuotaSnapshot, bool, error)

// Backend is the uniform interface of spec.md §4.3.
type Backend interface {
	SubmitJob(ctx context.Context, meta SubmitMeta) error
	CancelJob(ctx context.Context, jobID, userID string) error

	// BeforeJobRun returns true only if the job may proceed now.
	BeforeJobRun(ctx context.Context, jobID, userID string) (bool, error)
	// AfterJobRun releases the lock (if any) and updates counters.
	AfterJobRun(ctx context.Context, jobID, userID string, final common.JobState, ok bool, runErr error) error

	UserCounts(ctx context.Context, userID string) (UserCounts, error)
	GlobalCounts(ctx context.Context) (GlobalCounts, error)

	AdminSnapshot(ctx context.Context, limit int) ([]AdminSnapshotEntry, error)
	// AdminSetPriority re-prioritizes a pending job; returns a conflict
	// error if the job is not pending (spec.md §9 open question, resolved
	// by rejecting priority changes for non-pending jobs).
	AdminSetPriority(ctx context.Context, jobID string, priority int) error

	Status(ctx context.Context) Status

	// Run starts the backend's background loops (consume, delayed-mover,
	// health) and blocks until ctx is canceled.
	Run(ctx context.Context)
}
