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
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/policy"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/queue"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/statestore"
)

type createJobRequest struct {
	VideoPath     string `json:"video_path"`
	UploadID      string `json:"upload_id"`
	Mode          string `json:"mode"`
	Device        string `json:"device"`
	SrcLang       string `json:"src_lang"`
	TgtLang       string `json:"tgt_lang"`
	SeriesTitle   string `json:"series_title"`
	SeasonNumber  int    `json:"season_number"`
	EpisodeNumber int    `json:"episode_number"`
}

type createJobResponse struct {
	ID string `json:"id"`
}

func (s *Server) jobsCreate(w http.ResponseWriter, r *http.Request, _ httprouter.Params, p Principal) {
	if draining, retry := s.draining(); draining {
		writeErr(s.log, w, common.ErrDraining(retry))
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(s.log, w, common.ErrValidation("body", "malformed JSON"))
		return
	}
	if req.VideoPath == "" && req.UploadID == "" {
		writeErr(s.log, w, common.ErrValidation("video_path", "either video_path or upload_id is required"))
		return
	}

	if key := r.Header.Get("Idempotency-Key"); key != "" {
		if rec, ok := s.store.GetIdempotency(key); ok {
			writeJSON(w, http.StatusOK, createJobResponse{ID: rec.JobID})
			return
		}
	}

	quotaSnap := s.resolveQuota(p.UserID)
	decision := policy.EvaluateSubmission(policy.SubmissionInput{
		Role:          p.Role,
		UserCounts:    s.policyCounts(p.UserID),
		Quota:         quotaSnap,
		JobsToday:     s.store.CountJobsToday(p.UserID, s.clock.Now()),
		HasOverride:   s.hasOverride(p.UserID),
	})
	if !decision.OK {
		writeErr(s.log, w, denialToAPIError(decision))
		return
	}

	reservation, err := s.enforcer.ReserveDailyJobs(r.Context(), p.UserID, 1, quotaSnap.JobsPerDay)
	if err != nil {
		writeErr(s.log, w, err)
		return
	}
	committed := false
	defer func() {
		if !committed {
			reservation.Release()
		}
	}()

	// The requested mode/device ride on the job record as-is; PolicyEngine's
	// downgrade and auto-resolution rules are re-evaluated at dispatch time
	// by JobExecutor, not here.
	mode := decision.EffectiveMode
	if req.Mode != "" {
		_ = mode.Parse(req.Mode)
	}
	device := decision.EffectiveDevice
	if req.Device != "" {
		_ = device.Parse(req.Device)
	}

	videoPath := req.VideoPath
	if req.UploadID != "" {
		videoPath = req.UploadID
	}

	now := s.clock.Now()
	job := &common.Job{
		ID:         "job_" + common.NewJobID(),
		OwnerID:    p.UserID,
		VideoPath:  videoPath,
		Mode:       mode,
		Device:     device,
		State:      common.EJobState.Queued(),
		Visibility: common.EVisibility.Private(),
		Runtime: common.Runtime{
			"src_lang": req.SrcLang,
			"tgt_lang": req.TgtLang,
		},
		Library: common.LibraryMetadata{
			SeriesSlug: req.SeriesTitle,
			Season:     req.SeasonNumber,
			Episode:    req.EpisodeNumber,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.PutJob(job); err != nil {
		writeErr(s.log, w, err)
		return
	}

	if err := s.qbackend.SubmitJob(r.Context(), queue.SubmitMeta{
		JobID: job.ID, UserID: p.UserID, UserRole: p.Role,
		Mode: job.Mode, Device: job.Device, Priority: 0,
		CreatedMs: now.UnixMilli(),
	}); err != nil {
		writeErr(s.log, w, err)
		return
	}

	if key := r.Header.Get("Idempotency-Key"); key != "" {
		_ = s.store.PutIdempotency(key, job.ID, now)
	}

	committed = true
	writeJSON(w, http.StatusCreated, createJobResponse{ID: job.ID})
}

func (s *Server) hasOverride(userID string) bool {
	_, ok := s.store.GetUserQuota(userID)
	return ok
}

func denialToAPIError(d policy.Decision) error {
	reason := "denied"
	if len(d.Reasons) > 0 {
		reason = d.Reasons[0]
	}
	switch d.HTTPStatus {
	case http.StatusServiceUnavailable:
		return common.ErrDraining(d.RetryAfterSec)
	case http.StatusForbidden:
		return common.ErrForbidden(reason)
	case http.StatusTooManyRequests:
		return common.ErrQuota(reason, 0, 0, 0)
	default:
		return common.ErrValidation("request", reason)
	}
}

func (s *Server) jobsGet(w http.ResponseWriter, _ *http.Request, ps httprouter.Params, p Principal) {
	job, ok := s.store.GetJob(ps.ByName("id"))
	if !ok {
		writeErr(s.log, w, common.ErrNotFound("job", ps.ByName("id")))
		return
	}
	if !canView(p, job) {
		writeErr(s.log, w, common.ErrForbidden("not your job"))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func canView(p Principal, job *common.Job) bool {
	return p.Role.CanAdminister() || job.OwnerID == p.UserID || job.Visibility == common.EVisibility.Shared()
}

func (s *Server) jobsList(w http.ResponseWriter, r *http.Request, _ httprouter.Params, p Principal) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	filter := statestore.JobFilter{}
	if !p.Role.CanAdminister() {
		filter.OwnerID = p.UserID
	}
	if v := r.URL.Query().Get("state"); v != "" {
		var st common.JobState
		if err := st.Parse(v); err == nil {
			filter.State = &st
		}
	}
	jobs := s.store.ListJobs(limit, filter)
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) jobsCancel(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p Principal) {
	jobID := ps.ByName("id")
	job, ok := s.store.GetJob(jobID)
	if !ok {
		writeErr(s.log, w, common.ErrNotFound("job", jobID))
		return
	}
	if !p.Role.CanAdminister() && job.OwnerID != p.UserID {
		writeErr(s.log, w, common.ErrForbidden("not your job"))
		return
	}
	if err := s.qbackend.CancelJob(r.Context(), jobID, job.OwnerID); err != nil {
		writeErr(s.log, w, err)
		return
	}
	updated, err := s.store.UpdateJob(jobID, func(j *common.Job) error {
		if j.State.IsTerminal() {
			return nil
		}
		return j.ApplyTransition(common.EJobState.Canceled(), s.clock.Now())
	})
	if err != nil {
		writeErr(s.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// jobsEvents implements the SSE progress stream of spec.md §6.5: one
// `event: message` frame per poll tick, terminating once the job reaches a
// terminal state.
func (s *Server) jobsEvents(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p Principal) {
	jobID := ps.ByName("id")
	job, ok := s.store.GetJob(jobID)
	if !ok {
		writeErr(s.log, w, common.ErrNotFound("job", jobID))
		return
	}
	if !canView(p, job) {
		writeErr(s.log, w, common.ErrForbidden("not your job"))
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			job, ok := s.store.GetJob(jobID)
			if !ok {
				return
			}
			payload, _ := json.Marshal(job)
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			if canFlush {
				flusher.Flush()
			}
			if job.State.IsTerminal() {
				return
			}
		}
	}
}
