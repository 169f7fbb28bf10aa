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

// Package httpapi is the thin transport layer of spec.md §4 HTTPAPI /
// §6.1: it maps HTTP requests onto StateStore, QuotaEnforcer, UploadSession
// Manager, and QueueBackend calls and translates their typed errors into
// status codes. Routing follows the teacher pack's api/api.go pattern
// (github.com/julienschmidt/httprouter, one Handle method per endpoint,
// small writeJSON/writeErr helpers) — the only REST-routing library
// grounded anywhere in the retrieval pack.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/policy"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/quota"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/queue"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/statestore"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/upload"
)

// Store is the narrow StateStore surface the HTTP layer depends on.
type Store interface {
	PutJob(job *common.Job) error
	GetJob(id string) (*common.Job, bool)
	ListJobs(limit int, filter statestore.JobFilter) []*common.Job
	UpdateJob(id string, fn func(*common.Job) error) (*common.Job, error)

	PutIdempotency(key, jobID string, now time.Time) error
	GetIdempotency(key string) (common.IdempotencyRecord, bool)

	GetUserQuota(userID string) (common.UserQuotaOverride, bool)
	UpsertUserQuota(userID string, fn func(*common.UserQuotaOverride)) (common.UserQuotaOverride, error)

	CountJobsToday(userID string, now time.Time) int64
	CountRunningAndQueued(userID string) (running, queued int64)
}

// Uploads is the narrow UploadSessionManager surface the HTTP layer depends
// on (upload.Manager satisfies it).
type Uploads interface {
	Init(ctx context.Context, ownerID, filename string, totalBytes, chunkBytes int64, expectedSHA256 string) (*common.UploadSession, error)
	WriteChunk(ctx context.Context, sessionID string, index int, sha256Hex string, r io.Reader) (*common.UploadSession, error)
	Resume(ctx context.Context, sessionID string) ([]int, *common.UploadSession, error)
	Complete(ctx context.Context, sessionID string) (*common.UploadSession, error)
}

var _ Uploads = (*upload.Manager)(nil)

// Draining reports whether the server should refuse new submissions
// (spec.md §7 "Draining" error kind), flipped by graceful-shutdown.
type Draining func() (bool, int)

// Server holds every dependency the handlers need and exposes an
// http.Handler built from httprouter.
type Server struct {
	store   Store
	uploads Uploads
	qbackend queue.Backend
	enforcer *quota.Enforcer
	auth    Authenticator
	log     common.ILogger
	clock   common.Clock

	cfg      *common.Config
	draining Draining

	Handler http.Handler
}

func NewServer(store Store, uploads Uploads, qbackend queue.Backend, enforcer *quota.Enforcer, auth Authenticator, log common.ILogger, clock common.Clock, cfg *common.Config, draining Draining) *Server {
	if clock == nil {
		clock = common.RealClock
	}
	if log == nil {
		log = common.NopLogger
	}
	if auth == nil {
		auth = StaticAuthenticator{}
	}
	if draining == nil {
		draining = func() (bool, int) { return false, 0 }
	}
	s := &Server{
		store: store, uploads: uploads, qbackend: qbackend, enforcer: enforcer,
		auth: auth, log: log, clock: clock, cfg: cfg, draining: draining,
	}
	s.Handler = s.router()
	return s
}

func (s *Server) router() http.Handler {
	r := httprouter.New()
	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "not_found", Detail: "no such route"})
	})

	r.POST("/api/uploads/init", s.authenticated(s.uploadsInit))
	r.POST("/api/uploads/:id/chunk", s.authenticated(s.uploadsChunk))
	r.POST("/api/uploads/:id/complete", s.authenticated(s.uploadsComplete))
	r.GET("/api/uploads/:id/status", s.authenticated(s.uploadsStatus))

	r.POST("/api/jobs", s.authenticated(s.jobsCreate))
	r.GET("/api/jobs/:id", s.authenticated(s.jobsGet))
	r.GET("/api/jobs", s.authenticated(s.jobsList))
	r.POST("/api/jobs/:id/cancel", s.authenticated(s.jobsCancel))

	r.GET("/events/jobs/:id", s.authenticated(s.jobsEvents))

	r.GET("/api/admin/queue", s.authenticated(s.requireAdmin(s.adminQueue)))
	r.POST("/api/admin/jobs/:id/priority", s.authenticated(s.requireAdmin(s.adminPriority)))
	r.POST("/api/admin/quotas/:user_id", s.authenticated(s.requireAdmin(s.adminQuotas)))

	r.GET("/health", s.health)
	r.GET("/healthz", s.health)
	r.GET("/readyz", s.readyz)
	r.GET("/metrics", s.metrics)

	return r
}

type principalHandle func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p Principal)

func (s *Server) authenticated(h principalHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		p, err := s.auth.Authenticate(r)
		if err != nil {
			writeErr(s.log, w, err)
			return
		}
		h(w, r, ps, p)
	}
}

func (s *Server) requireAdmin(h principalHandle) principalHandle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p Principal) {
		if !p.Role.CanAdminister() {
			writeErr(s.log, w, common.ErrForbidden("admin role required"))
			return
		}
		h(w, r, ps, p)
	}
}

// resolveQuota merges the process defaults with any per-user override on
// record, the same role-defaults-plus-override rule PolicyEngine assumes.
func (s *Server) resolveQuota(userID string) common.QuotaSnapshot {
	defaults := common.QuotaSnapshot{
		MaxUploadBytes:    s.cfg.MaxUploadBytes,
		MaxStorageBytes:   s.cfg.MaxStorageBytes,
		JobsPerDay:        s.cfg.JobsPerDay,
		MaxConcurrentJobs: s.cfg.MaxConcurrentJobs,
		MaxQueuedJobs:     s.cfg.MaxQueuedJobs,
	}
	override, ok := s.store.GetUserQuota(userID)
	if !ok {
		return defaults
	}
	return quota.Resolve(defaults, override)
}

func (s *Server) policyCounts(userID string) policy.Counts {
	running, queued := s.store.CountRunningAndQueued(userID)
	return policy.Counts{Running: running, Queued: queued}
}
