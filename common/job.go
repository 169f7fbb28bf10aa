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

// LibraryMetadata locates a job's output within the browsing hierarchy;
// required on every Job per the data model.
type LibraryMetadata struct {
	SeriesSlug string `json:"series_slug"`
	Season     int    `json:"season"`
	Episode    int    `json:"episode"`
}

// Recognized runtime bag keys (spec.md §9 "Dynamic collection types").
const (
	RuntimeKeyPinned      = "pinned"
	RuntimeKeyArchived    = "archived"
	RuntimeKeyResynth     = "resynth"
	RuntimeKeyPrivacyMode = "privacy_mode"
	RuntimeKeyCachePolicy = "cache_policy"
	RuntimeKeyTags        = "tags"
)

// Runtime is the intentionally-schemaless per-job configuration bag. Only
// the keys above are read by this core; anything else passes through
// untouched for external collaborators.
type Runtime map[string]interface{}

func (r Runtime) Pinned() bool {
	v, _ := r[RuntimeKeyPinned].(bool)
	return v
}

func (r Runtime) Archived() bool {
	v, _ := r[RuntimeKeyArchived].(bool)
	return v
}

// Job is the durable record described in spec.md §3. JSON tags are
// snake_case per spec.md §6.5.
type Job struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	VideoPath string `json:"video_path"`
	DurationS float64 `json:"duration_s"`

	Mode   Mode   `json:"mode"`
	Device Device `json:"device"`
	State  JobState `json:"state"`

	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
	Error    string  `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Visibility Visibility `json:"visibility"`
	Runtime    Runtime    `json:"runtime"`

	Library LibraryMetadata `json:"library_metadata"`

	Priority int `json:"priority"`
	Attempts int `json:"attempts"`
}

// ApplyTransition validates and performs a state transition, bumping
// UpdatedAt monotonically. It never regresses UpdatedAt even under clock
// skew, satisfying testable property 1 (job state monotonicity).
func (j *Job) ApplyTransition(to JobState, now time.Time) error {
	if !j.State.ValidTransition(to) {
		return ErrConflict("invalid_state_transition",
			j.State.String()+" -> "+to.String()+" is not permitted")
	}
	j.State = to
	j.touch(now)
	return nil
}

func (j *Job) touch(now time.Time) {
	if now.Before(j.UpdatedAt) {
		now = j.UpdatedAt
	}
	j.UpdatedAt = now
}

// Touch bumps UpdatedAt without a state change, e.g. on a progress update.
func (j *Job) Touch(now time.Time) { j.touch(now) }

// Clone returns a deep-enough copy for safe handoff across goroutine
// boundaries (StateStore never hands out its internal pointer).
func (j *Job) Clone() *Job {
	cp := *j
	cp.Runtime = make(Runtime, len(j.Runtime))
	for k, v := range j.Runtime {
		cp.Runtime[k] = v
	}
	return &cp
}
