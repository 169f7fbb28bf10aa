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

import (
	"encoding/json"
	"reflect"

	"github.com/JeffreyRichter/enum/enum"
)

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

var EJobState = JobState(0)

// JobState is the lifecycle state of a Job. The zero value is Queued.
type JobState uint32

func (JobState) Queued() JobState   { return JobState(0) }
func (JobState) Running() JobState  { return JobState(1) }
func (JobState) Done() JobState     { return JobState(2) }
func (JobState) Failed() JobState   { return JobState(3) }
func (JobState) Canceled() JobState { return JobState(4) }
func (JobState) Paused() JobState   { return JobState(5) }

func (j JobState) String() string {
	return enum.StringInt(j, reflect.TypeOf(j))
}

func (j *JobState) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(j), s, true, true)
	if err == nil {
		*j = val.(JobState)
	}
	return err
}

func (j JobState) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.String())
}

func (j *JobState) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return j.Parse(s)
}

// IsTerminal reports whether a job in this state will never run again.
func (j JobState) IsTerminal() bool {
	return j == EJobState.Done() || j == EJobState.Failed() || j == EJobState.Canceled()
}

// ValidTransition enforces the state machine in the Job data model:
// QUEUED -> RUNNING -> {DONE|FAILED|CANCELED}; QUEUED -> CANCELED directly;
// a terminal state never transitions again.
func (from JobState) ValidTransition(to JobState) bool {
	if from.IsTerminal() {
		return false
	}
	switch from {
	case EJobState.Queued():
		switch to {
		case EJobState.Running(), EJobState.Canceled(), EJobState.Paused():
			return true
		}
	case EJobState.Running():
		switch to {
		case EJobState.Done(), EJobState.Failed(), EJobState.Canceled(), EJobState.Paused():
			return true
		}
	case EJobState.Paused():
		switch to {
		case EJobState.Queued(), EJobState.Running(), EJobState.Canceled():
			return true
		}
	}
	return from == to
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

var EMode = Mode(0)

// Mode is the pipeline quality tier, possibly downgraded by PolicyEngine.
type Mode uint8

func (Mode) Low() Mode    { return Mode(0) }
func (Mode) Medium() Mode { return Mode(1) }
func (Mode) High() Mode   { return Mode(2) }

func (m Mode) String() string {
	return enum.StringInt(m, reflect.TypeOf(m))
}

func (m *Mode) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(m), s, true, true)
	if err == nil {
		*m = val.(Mode)
	}
	return err
}

func (m Mode) MarshalJSON() ([]byte, error) { return json.Marshal(m.String()) }
func (m *Mode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return m.Parse(s)
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

var EDevice = Device(0)

// Device is the requested execution device.
type Device uint8

func (Device) Auto() Device { return Device(0) }
func (Device) CPU() Device  { return Device(1) }
func (Device) GPU() Device  { return Device(2) }

func (d Device) String() string {
	return enum.StringInt(d, reflect.TypeOf(d))
}

func (d *Device) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(d), s, true, true)
	if err == nil {
		*d = val.(Device)
	}
	return err
}

func (d Device) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }
func (d *Device) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.Parse(s)
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

var EVisibility = Visibility(0)

// Visibility controls job-artifact sharing scope.
type Visibility uint8

func (Visibility) Private() Visibility { return Visibility(0) }
func (Visibility) Shared() Visibility  { return Visibility(1) }

func (v Visibility) String() string {
	return enum.StringInt(v, reflect.TypeOf(v))
}

func (v *Visibility) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(v), s, true, true)
	if err == nil {
		*v = val.(Visibility)
	}
	return err
}

func (v Visibility) MarshalJSON() ([]byte, error) { return json.Marshal(v.String()) }
func (v *Visibility) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return v.Parse(s)
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

var ERole = Role(0)

// Role gates what an authenticated caller may do (spec §4.7).
type Role uint8

func (Role) Viewer() Role   { return Role(0) }
func (Role) Editor() Role   { return Role(1) }
func (Role) Operator() Role { return Role(2) }
func (Role) Admin() Role    { return Role(3) }

func (r Role) String() string {
	return enum.StringInt(r, reflect.TypeOf(r))
}

func (r *Role) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(r), s, true, true)
	if err == nil {
		*r = val.(Role)
	}
	return err
}

func (r Role) MarshalJSON() ([]byte, error) { return json.Marshal(r.String()) }
func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return r.Parse(s)
}

func (r Role) CanAdminister() bool { return r == ERole.Admin() }
func (r Role) CanSubmit() bool     { return r == ERole.Operator() || r == ERole.Admin() }

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

var EQueueMode = QueueMode(0)

// QueueMode selects which QueueBackend implementation is active.
type QueueMode uint8

func (QueueMode) Auto() QueueMode        { return QueueMode(0) }
func (QueueMode) Distributed() QueueMode { return QueueMode(1) }
func (QueueMode) Local() QueueMode       { return QueueMode(2) }

func (q QueueMode) String() string {
	return enum.StringInt(q, reflect.TypeOf(q))
}

func (q *QueueMode) Parse(s string) error {
	val, err := enum.ParseInt(reflect.TypeOf(q), s, true, true)
	if err == nil {
		*q = val.(QueueMode)
	}
	return err
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

var EUploadState = UploadState(0)

// UploadState is the lifecycle of a resumable upload session.
type UploadState uint8

func (UploadState) Init() UploadState       { return UploadState(0) }
func (UploadState) InProgress() UploadState { return UploadState(1) }
func (UploadState) Completed() UploadState  { return UploadState(2) }
func (UploadState) Abandoned() UploadState  { return UploadState(3) }

func (u UploadState) String() string {
	return enum.StringInt(u, reflect.TypeOf(u))
}

func (u UploadState) MarshalJSON() ([]byte, error) { return json.Marshal(u.String()) }
