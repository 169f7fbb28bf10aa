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

package policy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
)

func quota() common.QuotaSnapshot {
	return common.QuotaSnapshot{
		MaxUploadBytes:    1 << 30,
		MaxStorageBytes:   1 << 32,
		JobsPerDay:        10,
		MaxConcurrentJobs: 2,
		MaxQueuedJobs:     5,
	}
}

func TestEvaluateSubmissionDeniesWhileDraining(t *testing.T) {
	d := EvaluateSubmission(SubmissionInput{
		Role: common.ERole.Operator(), Draining: true, DrainRetrySec: 30, Quota: quota(),
	})
	assert.False(t, d.OK)
	assert.Equal(t, http.StatusServiceUnavailable, d.HTTPStatus)
	assert.Equal(t, 30, d.RetryAfterSec)
}

func TestEvaluateSubmissionDeniesViewerRole(t *testing.T) {
	d := EvaluateSubmission(SubmissionInput{Role: common.ERole.Viewer(), Quota: quota()})
	assert.False(t, d.OK)
	assert.Equal(t, http.StatusForbidden, d.HTTPStatus)
}

func TestEvaluateSubmissionAdminBypassesQuotaWithoutOverride(t *testing.T) {
	d := EvaluateSubmission(SubmissionInput{
		Role:        common.ERole.Admin(),
		HasOverride: false,
		UserCounts:  Counts{Queued: 999},
		JobsToday:   999,
		Quota:       quota(),
	})
	assert.True(t, d.OK)
}

func TestEvaluateSubmissionAdminWithOverrideIsBound(t *testing.T) {
	d := EvaluateSubmission(SubmissionInput{
		Role:        common.ERole.Admin(),
		HasOverride: true,
		UserCounts:  Counts{Queued: 5},
		Quota:       quota(),
	})
	assert.False(t, d.OK)
	assert.Equal(t, http.StatusTooManyRequests, d.HTTPStatus)
}

func TestEvaluateSubmissionDeniesAtQueuedCap(t *testing.T) {
	d := EvaluateSubmission(SubmissionInput{
		Role:       common.ERole.Operator(),
		UserCounts: Counts{Queued: 5},
		Quota:      quota(),
	})
	assert.False(t, d.OK)
	assert.Contains(t, d.Reasons, "max_queued_limit")
}

func TestEvaluateSubmissionDeniesAtDailyCap(t *testing.T) {
	d := EvaluateSubmission(SubmissionInput{
		Role:      common.ERole.Operator(),
		JobsToday: 10,
		Quota:     quota(),
	})
	assert.False(t, d.OK)
	assert.Contains(t, d.Reasons, "jobs_per_day_limit")
}

func TestEvaluateSubmissionAllowsUnderCaps(t *testing.T) {
	d := EvaluateSubmission(SubmissionInput{
		Role:       common.ERole.Operator(),
		UserCounts: Counts{Queued: 1},
		JobsToday:  3,
		Quota:      quota(),
	})
	assert.True(t, d.OK)
	assert.Equal(t, common.EMode.Medium(), d.EffectiveMode)
	assert.Equal(t, common.EDevice.Auto(), d.EffectiveDevice)
}

func TestEvaluateDispatchResolvesAutoDeviceFromGPUAvailability(t *testing.T) {
	withGPU := EvaluateDispatch(DispatchInput{
		RequestedDevice: common.EDevice.Auto(), GPUAvailable: true, Quota: quota(),
	})
	assert.Equal(t, common.EDevice.GPU(), withGPU.EffectiveDevice)

	withoutGPU := EvaluateDispatch(DispatchInput{
		RequestedDevice: common.EDevice.Auto(), GPUAvailable: false, Quota: quota(),
	})
	assert.Equal(t, common.EDevice.CPU(), withoutGPU.EffectiveDevice)
}

func TestEvaluateDispatchDowngradesHighModeWithoutGPU(t *testing.T) {
	d := EvaluateDispatch(DispatchInput{
		RequestedMode: common.EMode.High(), RequestedDevice: common.EDevice.CPU(),
		GPUAvailable: false, Quota: quota(),
	})
	assert.Equal(t, common.EMode.Medium(), d.EffectiveMode)
}

func TestEvaluateDispatchDowngradesHighModeAtGlobalCap(t *testing.T) {
	d := EvaluateDispatch(DispatchInput{
		RequestedMode: common.EMode.High(), RequestedDevice: common.EDevice.GPU(),
		GPUAvailable: true, HighModeRunning: 4, HighModeGlobalCap: 4, Quota: quota(),
	})
	assert.Equal(t, common.EMode.Medium(), d.EffectiveMode)
}

func TestEvaluateDispatchKeepsHighModeUnderGlobalCap(t *testing.T) {
	d := EvaluateDispatch(DispatchInput{
		RequestedMode: common.EMode.High(), RequestedDevice: common.EDevice.GPU(),
		GPUAvailable: true, HighModeRunning: 1, HighModeGlobalCap: 4, Quota: quota(),
	})
	assert.Equal(t, common.EMode.High(), d.EffectiveMode)
}

func TestEvaluateDispatchDefersAtConcurrencyCap(t *testing.T) {
	d := EvaluateDispatch(DispatchInput{
		RequestedMode: common.EMode.Medium(), RequestedDevice: common.EDevice.CPU(),
		UserCounts: Counts{Running: 2}, Quota: quota(),
	})
	assert.False(t, d.OK)
	assert.Equal(t, http.StatusOK, d.HTTPStatus, "deferral is not an error, just a not-yet")
	assert.Contains(t, d.Reasons, "concurrency_cap")
}

func TestEvaluateDispatchAdminBypassesConcurrencyCapWithoutOverride(t *testing.T) {
	d := EvaluateDispatch(DispatchInput{
		Role: common.ERole.Admin(), HasOverride: false,
		RequestedDevice: common.EDevice.CPU(),
		UserCounts:      Counts{Running: 999}, Quota: quota(),
	})
	assert.True(t, d.OK)
}
