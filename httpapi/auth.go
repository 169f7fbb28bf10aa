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

package httpapi

import (
	"net/http"
	"strings"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
)

// Principal is the authenticated caller, resolved by Authenticator.
type Principal struct {
	UserID string
	Role   common.Role
}

// Authenticator verifies a request's bearer token, API key, or session
// cookie and returns the caller it identifies. JWT verification, TOTP, and
// refresh-token rotation are external-collaborator internals per spec.md §1
// non-goals; this interface is the narrow contract the HTTP layer needs from
// whatever implements them.
type Authenticator interface {
	Authenticate(r *http.Request) (Principal, error)
}

// StaticAuthenticator is a development/test Authenticator: it trusts an
// X-User-Id / X-User-Role header pair set by an upstream gateway, with no
// token verification of its own. Production deployments supply a real
// Authenticator backed by the auth service's JWT/API-key verification.
type StaticAuthenticator struct{}

func (StaticAuthenticator) Authenticate(r *http.Request) (Principal, error) {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		if tok := bearerToken(r); tok != "" {
			userID = tok
		}
	}
	if userID == "" {
		return Principal{}, common.ErrAuth("missing credentials")
	}
	var role common.Role
	if err := role.Parse(r.Header.Get("X-User-Role")); err != nil {
		role = common.ERole.Operator()
	}
	return Principal{UserID: userID, Role: role}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}
