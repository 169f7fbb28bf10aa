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

package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/coordinator"
)

type fixedCounter struct{ n int64 }

func (f fixedCounter) CountJobsToday(userID string, now time.Time) int64 { return f.n }

func TestReserveDailyJobsLocalFallbackAllowsUnderLimit(t *testing.T) {
	e := NewEnforcer(nil, fixedCounter{n: 2}, "dq", common.RealClock)
	r, err := e.ReserveDailyJobs(context.Background(), "u1", 1, 5)
	require.NoError(t, err)
	require.NotNil(t, r)
	r.Release()
}

func TestReserveDailyJobsLocalFallbackDeniesAtLimit(t *testing.T) {
	e := NewEnforcer(nil, fixedCounter{n: 5}, "dq", common.RealClock)
	_, err := e.ReserveDailyJobs(context.Background(), "u1", 1, 5)
	require.Error(t, err)
	ae, ok := common.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, "jobs_per_day_limit", ae.Code)
}

func TestReserveDailyJobsReleaseFreesSlot(t *testing.T) {
	e := NewEnforcer(nil, fixedCounter{n: 0}, "dq", common.RealClock)
	r, err := e.ReserveDailyJobs(context.Background(), "u1", 5, 5)
	require.NoError(t, err)

	_, err = e.ReserveDailyJobs(context.Background(), "u1", 1, 5)
	require.Error(t, err, "slot should be exhausted before release")

	r.Release()
	_, err = e.ReserveDailyJobs(context.Background(), "u1", 1, 5)
	require.NoError(t, err, "releasing the reservation must free the slot")
}

func TestReserveDailyJobsReleaseIsIdempotent(t *testing.T) {
	e := NewEnforcer(nil, fixedCounter{n: 0}, "dq", common.RealClock)
	r, err := e.ReserveDailyJobs(context.Background(), "u1", 1, 5)
	require.NoError(t, err)
	r.Release()
	assert.NotPanics(t, func() { r.Release() })
}

func TestReserveDailyJobsCoordinatorBackedDeniesAndRollsBack(t *testing.T) {
	coord := coordinator.NewMemory()
	e := NewEnforcer(coord, nil, "dq", common.RealClock)

	_, err := e.ReserveDailyJobs(context.Background(), "u1", 3, 3)
	require.NoError(t, err)

	_, err = e.ReserveDailyJobs(context.Background(), "u1", 1, 3)
	require.Error(t, err, "coordinator-backed counter must deny once the limit is reached")

	val, ok, err := coord.Get(context.Background(), "dq:quota:u1:daily:"+common.RealClock.Now().UTC().Format("2006-01-02"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "3", val, "the failed attempt must be rolled back, leaving the counter at 3")
}

func TestReserveStorageBytesDeniesOverMax(t *testing.T) {
	e := NewEnforcer(nil, nil, "dq", common.RealClock)
	_, err := e.ReserveStorageBytes("u1", 90, 20, 100)
	require.Error(t, err)
}

func TestReserveStorageBytesStacksPendingAcrossCalls(t *testing.T) {
	e := NewEnforcer(nil, nil, "dq", common.RealClock)
	r1, err := e.ReserveStorageBytes("u1", 0, 60, 100)
	require.NoError(t, err)

	_, err = e.ReserveStorageBytes("u1", 0, 60, 100)
	require.Error(t, err, "the first reservation's pending bytes must count against the second")

	r1.Release()
	_, err = e.ReserveStorageBytes("u1", 0, 60, 100)
	require.NoError(t, err)
}

func TestResolveMergesOverrideFieldsOnly(t *testing.T) {
	defaults := common.QuotaSnapshot{MaxConcurrentJobs: 2, MaxQueuedJobs: 5, JobsPerDay: 10, MaxStorageBytes: 1000}
	maxRunning := int64(9)
	override := common.UserQuotaOverride{UserID: "u1", MaxRunning: &maxRunning}

	snap := Resolve(defaults, override)
	assert.Equal(t, int64(9), snap.MaxConcurrentJobs)
	assert.Equal(t, int64(5), snap.MaxQueuedJobs, "unset override fields keep the default")
	assert.Equal(t, int64(10), snap.JobsPerDay)
}

func TestRequireUploadBytesRejectsOverLimit(t *testing.T) {
	assert.NoError(t, RequireUploadBytes(100, 200))
	assert.Error(t, RequireUploadBytes(300, 200))
}

func TestRequireUploadProgressRejectsOverrun(t *testing.T) {
	assert.NoError(t, RequireUploadProgress(50, 100, 200))
	assert.Error(t, RequireUploadProgress(150, 100, 200), "written cannot exceed declared total")
	assert.Error(t, RequireUploadProgress(50, 100, 40), "written cannot exceed max upload bytes")
}

func TestRequireConcurrentJobsDeniesAtCap(t *testing.T) {
	assert.NoError(t, RequireConcurrentJobs(1, 2))
	assert.Error(t, RequireConcurrentJobs(2, 2))
}
