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
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// APIError is the result type the HTTP boundary translates into a response
// (spec.md §9 "Exceptions as control flow" design note). Core components
// return APIError (or wrap one with github.com/pkg/errors) instead of raising
// exceptions; reservations acquired before an APIError is produced must
// already have been released by the caller along every return path.
type APIError struct {
	Status  int
	Code    string
	Detail  string
	Headers map[string]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func NewAPIError(status int, code, detail string) *APIError {
	return &APIError{Status: status, Code: code, Detail: detail}
}

func (e *APIError) WithHeader(k, v string) *APIError {
	if e.Headers == nil {
		e.Headers = map[string]string{}
	}
	e.Headers[k] = v
	return e
}

// AsAPIError unwraps err looking for an *APIError, the way a handler needs to
// when an error has been wrapped by github.com/pkg/errors further up the
// call stack.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Error taxonomy constructors, one per row of spec.md §7.

func ErrValidation(field, detail string) *APIError {
	return NewAPIError(http.StatusBadRequest, "validation_error", fmt.Sprintf("%s: %s", field, detail))
}

func ErrAuth(detail string) *APIError {
	return NewAPIError(http.StatusUnauthorized, "auth_error", detail)
}

func ErrForbidden(detail string) *APIError {
	return NewAPIError(http.StatusForbidden, "forbidden", detail)
}

func ErrNotFound(resource, id string) *APIError {
	return NewAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("%s %q not found", resource, id))
}

func ErrConflict(code, detail string) *APIError {
	return NewAPIError(http.StatusConflict, code, detail)
}

// ErrQuota builds a 429 whose detail string reads
// "limit=<n> remaining=<n> reset_seconds=<n>", plus a Retry-After header.
// limit, remaining and reset_seconds are not separate fields of the JSON body.
func ErrQuota(code string, limit, remaining int64, resetSeconds int) *APIError {
	e := NewAPIError(http.StatusTooManyRequests, code,
		fmt.Sprintf("limit=%d remaining=%d reset_seconds=%d", limit, remaining, resetSeconds))
	e.WithHeader("Retry-After", fmt.Sprintf("%d", resetSeconds))
	return e
}

func ErrDraining(retryAfterSeconds int) *APIError {
	e := NewAPIError(http.StatusServiceUnavailable, "draining", "server is draining")
	e.WithHeader("Retry-After", fmt.Sprintf("%d", retryAfterSeconds))
	return e
}

func ErrIntegrity(detail string) *APIError {
	return NewAPIError(http.StatusBadRequest, "integrity_error", detail)
}

func ErrTooLarge(detail string) *APIError {
	return NewAPIError(http.StatusRequestEntityTooLarge, "too_large", detail)
}

func ErrRangeInvalid(detail string) *APIError {
	return NewAPIError(http.StatusRequestedRangeNotSatisfiable, "bad_range", detail)
}

// ErrStorageUnavailable is fatal at boot and a 500 at runtime.
var ErrStorageUnavailable = errors.New("state store unavailable")

// ErrPipelineFailed marks a non-retryable failure reported by the external
// pipeline collaborator.
var ErrPipelineFailed = errors.New("pipeline reported failure")

// Wrap adds a message to err using pkg/errors, the way common/azError.go
// composes a base error with additional context.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
