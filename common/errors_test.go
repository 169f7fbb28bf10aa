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
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsAPIErrorUnwrapsThroughWrap(t *testing.T) {
	base := ErrNotFound("job", "abc123")
	wrapped := Wrap(Wrap(base, "looking up job"), "dispatch")

	ae, ok := AsAPIError(wrapped)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, ae.Status)
	assert.Equal(t, "not_found", ae.Code)
}

func TestAsAPIErrorFalseForPlainError(t *testing.T) {
	_, ok := AsAPIError(ErrStorageUnavailable)
	assert.False(t, ok)
}

func TestErrQuotaSetsRetryAfterHeader(t *testing.T) {
	err := ErrQuota("jobs_per_day", 10, 0, 3600)
	assert.Equal(t, http.StatusTooManyRequests, err.Status)
	assert.Equal(t, "3600", err.Headers["Retry-After"])
}

func TestErrDrainingSetsRetryAfterHeader(t *testing.T) {
	err := ErrDraining(30)
	assert.Equal(t, http.StatusServiceUnavailable, err.Status)
	assert.Equal(t, "draining", err.Code)
	assert.Equal(t, "30", err.Headers["Retry-After"])
}

func TestWithHeaderInitializesMapLazily(t *testing.T) {
	err := NewAPIError(http.StatusBadRequest, "x", "y")
	assert.Nil(t, err.Headers)
	err.WithHeader("A", "1").WithHeader("B", "2")
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, err.Headers)
}
