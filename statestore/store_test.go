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

package statestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
)

func TestPutAndGetJobRoundTrips(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	job := &common.Job{ID: "j1", OwnerID: "u1", State: common.EJobState.Queued()}
	require.NoError(t, s.PutJob(job))

	got, ok := s.GetJob("j1")
	require.True(t, ok)
	assert.Equal(t, "u1", got.OwnerID)
}

func TestGetJobClonesSoCallerMutationDoesNotLeak(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutJob(&common.Job{ID: "j1", Message: "original"}))
	got, _ := s.GetJob("j1")
	got.Message = "mutated"

	got2, _ := s.GetJob("j1")
	assert.Equal(t, "original", got2.Message)
}

func TestUpdateJobNotFound(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.UpdateJob("missing", func(j *common.Job) error { return nil })
	require.Error(t, err)
	ae, ok := common.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 404, ae.Status)
}

func TestUpdateJobAppliesMutation(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutJob(&common.Job{ID: "j1", State: common.EJobState.Queued()}))
	updated, err := s.UpdateJob("j1", func(j *common.Job) error {
		return j.ApplyTransition(common.EJobState.Running(), time.Unix(100, 0))
	})
	require.NoError(t, err)
	assert.Equal(t, common.EJobState.Running(), updated.State)

	got, _ := s.GetJob("j1")
	assert.Equal(t, common.EJobState.Running(), got.State)
}

func TestListJobsFiltersByOwnerAndState(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutJob(&common.Job{ID: "j1", OwnerID: "u1", State: common.EJobState.Queued(), UpdatedAt: time.Unix(1, 0)}))
	require.NoError(t, s.PutJob(&common.Job{ID: "j2", OwnerID: "u1", State: common.EJobState.Running(), UpdatedAt: time.Unix(2, 0)}))
	require.NoError(t, s.PutJob(&common.Job{ID: "j3", OwnerID: "u2", State: common.EJobState.Queued(), UpdatedAt: time.Unix(3, 0)}))

	u1 := s.ListJobs(0, JobFilter{OwnerID: "u1"})
	assert.Len(t, u1, 2)

	queued := common.EJobState.Queued()
	filtered := s.ListJobs(0, JobFilter{OwnerID: "u1", State: &queued})
	require.Len(t, filtered, 1)
	assert.Equal(t, "j1", filtered[0].ID)
}

func TestListJobsOrderedMostRecentlyUpdatedFirst(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutJob(&common.Job{ID: "old", UpdatedAt: time.Unix(1, 0)}))
	require.NoError(t, s.PutJob(&common.Job{ID: "new", UpdatedAt: time.Unix(2, 0)}))

	out := s.ListJobs(0, JobFilter{})
	require.Len(t, out, 2)
	assert.Equal(t, "new", out[0].ID)
}

func TestListJobsRespectsLimit(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.PutJob(&common.Job{ID: string(rune('a' + i))}))
	}
	assert.Len(t, s.ListJobs(2, JobFilter{}), 2)
}

func TestDeleteJobRemovesFromIndex(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	job := &common.Job{ID: "j1", Library: common.LibraryMetadata{SeriesSlug: "show", Season: 1, Episode: 2}}
	require.NoError(t, s.PutJob(job))
	assert.Len(t, s.ListJobsByLibrary("show", 1, 2), 1)

	require.NoError(t, s.DeleteJob("j1"))
	_, ok := s.GetJob("j1")
	assert.False(t, ok)
	assert.Empty(t, s.ListJobsByLibrary("show", 1, 2))
}

func TestUploadLifecycle(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	up := &common.UploadSession{ID: "u1", OwnerID: "owner"}
	require.NoError(t, s.PutUpload(up))

	got, ok := s.GetUpload("u1")
	require.True(t, ok)
	assert.Equal(t, "owner", got.OwnerID)

	_, err = s.UpdateUpload("u1", func(u *common.UploadSession) error {
		u.Completed = true
		return nil
	})
	require.NoError(t, err)

	listed := s.ListUploads("owner", false)
	assert.Empty(t, listed, "completed uploads excluded unless includeCompleted")

	listed = s.ListUploads("owner", true)
	assert.Len(t, listed, 1)

	require.NoError(t, s.DeleteUpload("u1"))
	_, ok = s.GetUpload("u1")
	assert.False(t, ok)
}

func TestIdempotencyRoundTrip(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutIdempotency("key1", "job1", time.Unix(10, 0)))
	rec, ok := s.GetIdempotency("key1")
	require.True(t, ok)
	assert.Equal(t, "job1", rec.JobID)

	_, ok = s.GetIdempotency("missing")
	assert.False(t, ok)
}

func TestUpsertUserQuotaMergesAcrossCalls(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	maxRunning := int64(5)
	_, err = s.UpsertUserQuota("u1", func(q *common.UserQuotaOverride) {
		q.MaxRunning = &maxRunning
	})
	require.NoError(t, err)

	maxQueued := int64(9)
	_, err = s.UpsertUserQuota("u1", func(q *common.UserQuotaOverride) {
		q.MaxQueued = &maxQueued
	})
	require.NoError(t, err)

	q, ok := s.GetUserQuota("u1")
	require.True(t, ok)
	require.NotNil(t, q.MaxRunning)
	assert.Equal(t, int64(5), *q.MaxRunning, "earlier field set must survive a later partial upsert")
	require.NotNil(t, q.MaxQueued)
	assert.Equal(t, int64(9), *q.MaxQueued)
}

func TestCountJobsTodayOnlyCountsCurrentUTCDay(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	require.NoError(t, s.PutJob(&common.Job{ID: "j1", OwnerID: "u1", CreatedAt: now}))
	require.NoError(t, s.PutJob(&common.Job{ID: "j2", OwnerID: "u1", CreatedAt: yesterday}))
	require.NoError(t, s.PutJob(&common.Job{ID: "j3", OwnerID: "u2", CreatedAt: now}))

	assert.Equal(t, int64(1), s.CountJobsToday("u1", now))
}

func TestCountRunningAndQueued(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutJob(&common.Job{ID: "j1", OwnerID: "u1", State: common.EJobState.Running()}))
	require.NoError(t, s.PutJob(&common.Job{ID: "j2", OwnerID: "u1", State: common.EJobState.Queued()}))
	require.NoError(t, s.PutJob(&common.Job{ID: "j3", OwnerID: "u1", State: common.EJobState.Queued()}))

	running, queued := s.CountRunningAndQueued("u1")
	assert.Equal(t, int64(1), running)
	assert.Equal(t, int64(2), queued)
}

func TestOpenReplaysLogAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.PutJob(&common.Job{ID: "j1", OwnerID: "u1"}))
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, ok := reopened.GetJob("j1")
	require.True(t, ok)
	assert.Equal(t, "u1", got.OwnerID)
}

func TestOpenFailsWhenDirectoryAlreadyLocked(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	_, err = Open(dir)
	assert.Error(t, err, "a second Open against the same STATE_DIR must fail the advisory lock")
}
