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

package common

import "time"

// ReceivedChunk records one accepted chunk write.
type ReceivedChunk struct {
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// UploadSession is the durable record described in spec.md §3.
type UploadSession struct {
	ID       string `json:"id"`
	OwnerID  string `json:"owner_id"`
	Filename string `json:"filename"`

	TotalBytes  int64 `json:"total_bytes"`
	ChunkBytes  int64 `json:"chunk_bytes"`
	TotalChunks int   `json:"total_chunks"`

	PartPath  string `json:"part_path"`
	FinalPath string `json:"final_path"`

	Received      map[int]ReceivedChunk `json:"received"`
	ReceivedBytes int64                 `json:"received_bytes"`

	Completed      bool   `json:"completed"`
	Encrypted      bool   `json:"encrypted"`
	FinalSHA256    string `json:"final_sha256,omitempty"`
	ExpectedSHA256 string `json:"expected_sha256,omitempty"`

	State UploadState `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExpectedChunkSize returns the size a chunk at index must have, per the
// offset invariant in spec.md §3.
func (u *UploadSession) ExpectedChunkSize(index int) int64 {
	if index == u.TotalChunks-1 {
		return u.TotalBytes - u.ExpectedOffset(index)
	}
	return u.ChunkBytes
}

func (u *UploadSession) ExpectedOffset(index int) int64 {
	return int64(index) * u.ChunkBytes
}

// MissingChunks returns the indexes not yet present in Received, in
// ascending order — the exact contract of resume() in spec.md §4.9.
func (u *UploadSession) MissingChunks() []int {
	missing := make([]int, 0, u.TotalChunks)
	for i := 0; i < u.TotalChunks; i++ {
		if _, ok := u.Received[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// RecomputeReceivedBytes restores the invariant
// received_bytes == sum(received[*].size); callers may instead maintain the
// counter incrementally as spec.md §9 permits, but this exists so tests can
// assert the invariant directly.
func (u *UploadSession) RecomputeReceivedBytes() {
	var total int64
	for _, c := range u.Received {
		total += c.Size
	}
	u.ReceivedBytes = total
}

func (u *UploadSession) touch(now time.Time) {
	if now.Before(u.UpdatedAt) {
		now = u.UpdatedAt
	}
	u.UpdatedAt = now
}

func (u *UploadSession) Clone() *UploadSession {
	cp := *u
	cp.Received = make(map[int]ReceivedChunk, len(u.Received))
	for k, v := range u.Received {
		cp.Received[k] = v
	}
	return &cp
}

// Touch exposes the monotonic UpdatedAt bump to callers outside this
// package (StateStore, UploadSessionManager).
func (u *UploadSession) Touch(now time.Time) { u.touch(now) }

// UserQuotaOverride is the per-user override record merged with role
// defaults to produce a QuotaSnapshot.
type UserQuotaOverride struct {
	UserID            string `json:"user_id"`
	MaxRunning        *int64 `json:"max_running,omitempty"`
	MaxQueued         *int64 `json:"max_queued,omitempty"`
	JobsPerDay        *int64 `json:"jobs_per_day,omitempty"`
	MaxStorageBytes   *int64 `json:"max_storage_bytes,omitempty"`
}

// QuotaSnapshot is the request-scoped, derived merge of role defaults and
// per-user overrides (spec.md §3).
type QuotaSnapshot struct {
	MaxUploadBytes    int64
	MaxStorageBytes   int64
	JobsPerDay        int64
	MaxConcurrentJobs int64
	MaxQueuedJobs     int64
}

// IdempotencyRecord is {key -> (job_id, created_at)} per spec.md §3.
type IdempotencyRecord struct {
	Key       string    `json:"key"`
	JobID     string    `json:"job_id"`
	CreatedAt time.Time `json:"created_at"`
}
