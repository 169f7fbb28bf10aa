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

// Package policy implements the pure submission and dispatch rules of
// spec.md §4.7. Nothing in this package mutates state; every function takes
// the counters and quotas it needs and returns a Decision.
package policy

import (
	"net/http"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
)

// Counts is the {running, queued} pair PolicyEngine rules are evaluated
// against, at either user or global scope.
type Counts struct {
	Running int64
	Queued  int64
}

// Decision is the PolicyEngine's only output shape: it never mutates state.
type Decision struct {
	OK              bool
	Reasons         []string
	EffectiveMode   common.Mode
	EffectiveDevice common.Device
	HTTPStatus      int
	RetryAfterSec   int
}

func deny(status int, reasons ...string) Decision {
	return Decision{OK: false, Reasons: reasons, HTTPStatus: status}
}

func allow(mode common.Mode, device common.Device) Decision {
	return Decision{OK: true, EffectiveMode: mode, EffectiveDevice: device, HTTPStatus: http.StatusOK}
}

// SubmissionInput bundles everything EvaluateSubmission needs.
type SubmissionInput struct {
	Role          common.Role
	Draining      bool
	DrainRetrySec int
	UserCounts    Counts
	Quota         common.QuotaSnapshot
	JobsToday     int64
	HasOverride   bool // true if the user has an explicit per-user quota override
}

// EvaluateSubmission applies the submission-time rules of spec.md §4.7:
// role gate, draining, queued cap, daily cap. It never looks at device/mode
// downgrade rules — those apply at dispatch time only.
func EvaluateSubmission(in SubmissionInput) Decision {
	if in.Draining {
		return deny(http.StatusServiceUnavailable, "draining").withRetry(in.DrainRetrySec)
	}
	if !in.Role.CanSubmit() {
		return deny(http.StatusForbidden, "role_forbidden")
	}
	if in.Role.CanAdminister() && !in.HasOverride {
		return allow(common.EMode.Medium(), common.EDevice.Auto())
	}
	if in.UserCounts.Queued >= in.Quota.MaxQueuedJobs {
		return deny(http.StatusTooManyRequests, "max_queued_limit")
	}
	if in.JobsToday+1 > in.Quota.JobsPerDay {
		return deny(http.StatusTooManyRequests, "jobs_per_day_limit")
	}
	return allow(common.EMode.Medium(), common.EDevice.Auto())
}

func (d Decision) withRetry(sec int) Decision {
	d.RetryAfterSec = sec
	return d
}

// DispatchInput bundles everything EvaluateDispatch needs.
type DispatchInput struct {
	Role              common.Role
	RequestedMode     common.Mode
	RequestedDevice   common.Device
	GPUAvailable      bool
	UserCounts        Counts
	Quota             common.QuotaSnapshot
	HasOverride       bool
	HighModeRunning   int64
	HighModeGlobalCap int64
}

// EvaluateDispatch applies the dispatch-time rules of spec.md §4.7: device
// auto-resolution, high-mode downgrade (global cap or no GPU), and the
// concurrency cap. Submission-time checks (queued cap, daily cap) are not
// re-applied here.
func EvaluateDispatch(in DispatchInput) Decision {
	device := in.RequestedDevice
	if device == common.EDevice.Auto() {
		if in.GPUAvailable {
			device = common.EDevice.GPU()
		} else {
			device = common.EDevice.CPU()
		}
	}

	mode := in.RequestedMode
	if mode == common.EMode.High() {
		if !in.GPUAvailable || device == common.EDevice.CPU() {
			mode = common.EMode.Medium()
		} else if in.HighModeRunning >= in.HighModeGlobalCap {
			mode = common.EMode.Medium()
		}
	}

	if !(in.Role.CanAdminister() && !in.HasOverride) {
		if in.UserCounts.Running >= in.Quota.MaxConcurrentJobs {
			return deny(http.StatusOK, "concurrency_cap").withEffective(mode, device)
		}
	}

	return allow(mode, device)
}

func (d Decision) withEffective(mode common.Mode, device common.Device) Decision {
	d.EffectiveMode = mode
	d.EffectiveDevice = device
	return d
}
