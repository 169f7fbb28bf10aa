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

// Package statestore is the exclusively-owned, durable record of jobs,
// uploads, quota overrides, and idempotency keys (spec.md §4.1). It holds a
// single-writer OS advisory lock on its directory for the life of the
// process and keeps an in-memory index rebuilt from an append-only log on
// open — additive schema evolution only, never destructive, per spec.md
// §4.1's migration policy.
package statestore

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
)

// record is the on-disk envelope for one log entry. Exactly one of Job /
// Upload / Idempotency / Quota is populated, selected by Kind.
type record struct {
	Kind        string                     `json:"kind"`
	Deleted     bool                       `json:"deleted,omitempty"`
	Job         *common.Job                `json:"job,omitempty"`
	Upload      *common.UploadSession      `json:"upload,omitempty"`
	Idempotency *common.IdempotencyRecord  `json:"idempotency,omitempty"`
	Quota       *common.UserQuotaOverride  `json:"quota,omitempty"`
}

const (
	kindJob         = "job"
	kindUpload      = "upload"
	kindIdempotency = "idempotency"
	kindQuota       = "quota"
)

type libraryKey struct {
	Slug    string
	Season  int
	Episode int
}

// Store is the single-writer StateStore. All mutating methods hold the
// write lock for their whole duration; reads take the read lock, so readers
// may run concurrently with each other but never with a writer (spec.md §5
// "StateStore: single writer via advisory file lock; readers concurrent").
type Store struct {
	dir string

	lockFile *os.File
	logFile  *os.File

	mu sync.RWMutex

	jobs        map[string]*common.Job
	uploads     map[string]*common.UploadSession
	idempotency map[string]common.IdempotencyRecord
	quotas      map[string]common.UserQuotaOverride

	libraryIndex map[libraryKey][]string // job ids, in the order they were first indexed
}

// Open acquires the advisory lock, replays the log to rebuild the in-memory
// index, and returns a ready Store. It fails with ErrStorageUnavailable if
// the directory or lock cannot be obtained — fatal at boot per spec.md §7.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, common.Wrap(common.ErrStorageUnavailable, err.Error())
	}
	lockPath := filepath.Join(dir, ".lock")
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, common.Wrap(common.ErrStorageUnavailable, err.Error())
	}
	if err := acquireExclusive(lockFile); err != nil {
		_ = lockFile.Close()
		return nil, common.Wrapf(common.ErrStorageUnavailable, "state dir %s is locked by another process: %v", dir, err)
	}

	s := &Store{
		dir:          dir,
		lockFile:     lockFile,
		jobs:         map[string]*common.Job{},
		uploads:      map[string]*common.UploadSession{},
		idempotency:  map[string]common.IdempotencyRecord{},
		quotas:       map[string]common.UserQuotaOverride{},
		libraryIndex: map[libraryKey][]string{},
	}

	if err := s.replay(); err != nil {
		_ = releaseLock(lockFile)
		_ = lockFile.Close()
		return nil, common.Wrap(common.ErrStorageUnavailable, err.Error())
	}

	logFile, err := os.OpenFile(filepath.Join(dir, "jobs.db"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		_ = releaseLock(lockFile)
		_ = lockFile.Close()
		return nil, common.Wrap(common.ErrStorageUnavailable, err.Error())
	}
	s.logFile = logFile
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile != nil {
		_ = s.logFile.Close()
	}
	_ = releaseLock(s.lockFile)
	return s.lockFile.Close()
}

func (s *Store) replay() error {
	path := filepath.Join(s.dir, "jobs.db")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // tolerate a torn trailing write from a crash
		}
		s.applyRecord(rec)
	}
	return scanner.Err()
}

func (s *Store) applyRecord(rec record) {
	switch rec.Kind {
	case kindJob:
		if rec.Job == nil {
			return
		}
		if rec.Deleted {
			s.removeFromLibraryIndex(rec.Job.ID)
			delete(s.jobs, rec.Job.ID)
			return
		}
		s.jobs[rec.Job.ID] = rec.Job
		s.indexJob(rec.Job)
	case kindUpload:
		if rec.Upload == nil {
			return
		}
		if rec.Deleted {
			delete(s.uploads, rec.Upload.ID)
			return
		}
		s.uploads[rec.Upload.ID] = rec.Upload
	case kindIdempotency:
		if rec.Idempotency != nil {
			s.idempotency[rec.Idempotency.Key] = *rec.Idempotency
		}
	case kindQuota:
		if rec.Quota != nil {
			s.quotas[rec.Quota.UserID] = *rec.Quota
		}
	}
}

func (s *Store) indexJob(j *common.Job) {
	if j.Library.SeriesSlug == "" {
		return
	}
	key := libraryKey{j.Library.SeriesSlug, j.Library.Season, j.Library.Episode}
	for _, id := range s.libraryIndex[key] {
		if id == j.ID {
			return
		}
	}
	s.libraryIndex[key] = append(s.libraryIndex[key], j.ID)
}

func (s *Store) removeFromLibraryIndex(jobID string) {
	for key, ids := range s.libraryIndex {
		for i, id := range ids {
			if id == jobID {
				s.libraryIndex[key] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
}

// appendLocked writes one record to the durable log. Callers must hold
// s.mu for write. On failure the caller must not apply the corresponding
// in-memory mutation (spec.md §4.1 "on any write failure, the in-memory
// view is not updated").
func (s *Store) appendLocked(rec record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.logFile.Write(b); err != nil {
		return err
	}
	return s.logFile.Sync()
}

// PutJob upserts job, updating the library index on create or state change.
func (s *Store) PutJob(job *common.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := job.Clone()
	if err := s.appendLocked(record{Kind: kindJob, Job: cp}); err != nil {
		return common.Wrap(err, "put job")
	}
	s.jobs[cp.ID] = cp
	s.indexJob(cp)
	return nil
}

func (s *Store) GetJob(id string) (*common.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// JobFilter narrows ListJobs; zero values mean "no filter".
type JobFilter struct {
	OwnerID string
	State   *common.JobState
}

// ListJobs returns up to limit jobs matching filter, most-recently-updated
// first. limit <= 0 means unlimited.
func (s *Store) ListJobs(limit int, filter JobFilter) []*common.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*common.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.OwnerID != "" && j.OwnerID != filter.OwnerID {
			continue
		}
		if filter.State != nil && j.State != *filter.State {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.After(out[k].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ListJobsByLibrary answers browsing queries off the denormalized index.
func (s *Store) ListJobsByLibrary(slug string, season, episode int) []*common.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := libraryKey{slug, season, episode}
	ids := s.libraryIndex[key]
	out := make([]*common.Job, 0, len(ids))
	for _, id := range ids {
		if j, ok := s.jobs[id]; ok {
			out = append(out, j.Clone())
		}
	}
	return out
}

// UpdateJob loads, mutates via fn, and persists a job atomically with
// respect to other StateStore writers.
func (s *Store) UpdateJob(id string, fn func(*common.Job) error) (*common.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, common.ErrNotFound("job", id)
	}
	cp := j.Clone()
	if err := fn(cp); err != nil {
		return nil, err
	}
	if err := s.appendLocked(record{Kind: kindJob, Job: cp}); err != nil {
		return nil, common.Wrap(err, "update job")
	}
	s.jobs[cp.ID] = cp
	s.indexJob(cp)
	return cp.Clone(), nil
}

func (s *Store) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	if err := s.appendLocked(record{Kind: kindJob, Job: j, Deleted: true}); err != nil {
		return common.Wrap(err, "delete job")
	}
	delete(s.jobs, id)
	s.removeFromLibraryIndex(id)
	return nil
}

func (s *Store) PutUpload(u *common.UploadSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u.Clone()
	if err := s.appendLocked(record{Kind: kindUpload, Upload: cp}); err != nil {
		return common.Wrap(err, "put upload")
	}
	s.uploads[cp.ID] = cp
	return nil
}

func (s *Store) GetUpload(id string) (*common.UploadSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil, false
	}
	return u.Clone(), true
}

func (s *Store) UpdateUpload(id string, fn func(*common.UploadSession) error) (*common.UploadSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil, common.ErrNotFound("upload", id)
	}
	cp := u.Clone()
	if err := fn(cp); err != nil {
		return nil, err
	}
	if err := s.appendLocked(record{Kind: kindUpload, Upload: cp}); err != nil {
		return nil, common.Wrap(err, "update upload")
	}
	s.uploads[cp.ID] = cp
	return cp.Clone(), nil
}

func (s *Store) DeleteUpload(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil
	}
	if err := s.appendLocked(record{Kind: kindUpload, Upload: u, Deleted: true}); err != nil {
		return common.Wrap(err, "delete upload")
	}
	delete(s.uploads, id)
	return nil
}

// ListUploads returns uploads for owner (all owners if empty), optionally
// including completed sessions.
func (s *Store) ListUploads(owner string, includeCompleted bool) []*common.UploadSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*common.UploadSession, 0, len(s.uploads))
	for _, u := range s.uploads {
		if owner != "" && u.OwnerID != owner {
			continue
		}
		if u.Completed && !includeCompleted {
			continue
		}
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.After(out[k].UpdatedAt) })
	return out
}

func (s *Store) PutIdempotency(key, jobID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := common.IdempotencyRecord{Key: key, JobID: jobID, CreatedAt: now}
	if err := s.appendLocked(record{Kind: kindIdempotency, Idempotency: &rec}); err != nil {
		return common.Wrap(err, "put idempotency")
	}
	s.idempotency[key] = rec
	return nil
}

func (s *Store) GetIdempotency(key string) (common.IdempotencyRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.idempotency[key]
	return rec, ok
}

func (s *Store) GetUserQuota(userID string) (common.UserQuotaOverride, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotas[userID]
	return q, ok
}

func (s *Store) UpsertUserQuota(userID string, fn func(*common.UserQuotaOverride)) (common.UserQuotaOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.quotas[userID]
	q.UserID = userID
	fn(&q)
	if err := s.appendLocked(record{Kind: kindQuota, Quota: &q}); err != nil {
		return common.UserQuotaOverride{}, common.Wrap(err, "upsert quota")
	}
	s.quotas[userID] = q
	return q, nil
}

// CountJobsToday counts a user's jobs created on the current UTC day,
// the StateStore-backed fallback QuotaEnforcer uses when no coordinator is
// configured (spec.md §4.8).
func (s *Store) CountJobsToday(userID string, now time.Time) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	y, m, d := now.UTC().Date()
	var n int64
	for _, j := range s.jobs {
		if j.OwnerID != userID {
			continue
		}
		jy, jm, jd := j.CreatedAt.UTC().Date()
		if jy == y && jm == m && jd == d {
			n++
		}
	}
	return n
}

// CountRunningAndQueued gives the StateStore-derived running and queued
// counts httpapi uses for submission-time policy checks.
func (s *Store) CountRunningAndQueued(userID string) (running, queued int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.OwnerID != userID {
			continue
		}
		switch j.State {
		case common.EJobState.Running():
			running++
		case common.EJobState.Queued():
			queued++
		}
	}
	return
}
