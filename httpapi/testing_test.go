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

package httpapi

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/quota"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/queue"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/statestore"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/upload"
)

// fakeBackend is a minimal queue.Backend double scoped to what the HTTP
// layer actually calls, letting tests assert submissions/cancellations and
// stub out admin/priority/health responses without a real queue loop.
type fakeBackend struct {
	mu           sync.Mutex
	submitted    []queue.SubmitMeta
	canceled     []string
	submitErr    error
	cancelErr    error
	snapshot     []queue.AdminSnapshotEntry
	snapshotErr  error
	priorityErr  error
	status       queue.Status
	globalCounts queue.GlobalCounts
}

func (f *fakeBackend) SubmitJob(ctx context.Context, meta queue.SubmitMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, meta)
	return nil
}
func (f *fakeBackend) CancelJob(ctx context.Context, jobID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, jobID)
	return nil
}
func (f *fakeBackend) BeforeJobRun(ctx context.Context, jobID, userID string) (bool, error) {
	return true, nil
}
func (f *fakeBackend) AfterJobRun(ctx context.Context, jobID, userID string, final common.JobState, ok bool, runErr error) error {
	return nil
}
func (f *fakeBackend) UserCounts(ctx context.Context, userID string) (queue.UserCounts, error) {
	return queue.UserCounts{}, nil
}
func (f *fakeBackend) GlobalCounts(ctx context.Context) (queue.GlobalCounts, error) {
	return f.globalCounts, nil
}
func (f *fakeBackend) AdminSnapshot(ctx context.Context, limit int) ([]queue.AdminSnapshotEntry, error) {
	return f.snapshot, f.snapshotErr
}
func (f *fakeBackend) AdminSetPriority(ctx context.Context, jobID string, priority int) error {
	return f.priorityErr
}
func (f *fakeBackend) Status(ctx context.Context) queue.Status { return f.status }
func (f *fakeBackend) Run(ctx context.Context)                 {}

var _ queue.Backend = (*fakeBackend)(nil)

type testHarness struct {
	srv     *Server
	http    *httptest.Server
	store   *statestore.Store
	backend *fakeBackend
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	store, err := statestore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mgr := upload.NewManager(store, t.TempDir(), common.NopLogger, common.RealClock, nil, nil, nil)
	backend := &fakeBackend{status: queue.Status{Mode: common.EQueueMode.Local(), Healthy: true}}
	enforcer := quota.NewEnforcer(nil, store, "dq-test", common.RealClock)

	cfg := &common.Config{
		UploadChunkBytes:  4 << 20,
		JobsPerDay:        100,
		MaxConcurrentJobs: 5,
		MaxQueuedJobs:     10,
		MaxUploadBytes:    1 << 30,
		MaxStorageBytes:   1 << 32,
	}

	srv := NewServer(store, mgr, backend, enforcer, StaticAuthenticator{}, common.NopLogger, common.RealClock, cfg, nil)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return &testHarness{srv: srv, http: ts, store: store, backend: backend}
}
