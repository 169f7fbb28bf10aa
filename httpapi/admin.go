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

	"github.com/julienschmidt/httprouter"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
)

func (s *Server) adminQueue(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ Principal) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	entries, err := s.qbackend.AdminSnapshot(r.Context(), limit)
	if err != nil {
		writeErr(s.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type priorityRequest struct {
	Priority int `json:"priority"`
}

func (s *Server) adminPriority(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ Principal) {
	var req priorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(s.log, w, common.ErrValidation("body", "malformed JSON"))
		return
	}
	if err := s.qbackend.AdminSetPriority(r.Context(), ps.ByName("id"), req.Priority); err != nil {
		writeErr(s.log, w, err)
		return
	}
	writeNoContent(w)
}

type quotaOverrideRequest struct {
	MaxRunning      *int64 `json:"max_running"`
	MaxQueued       *int64 `json:"max_queued"`
	JobsPerDay      *int64 `json:"jobs_per_day"`
	MaxStorageBytes *int64 `json:"max_storage_bytes"`
}

func (s *Server) adminQuotas(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ Principal) {
	var req quotaOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(s.log, w, common.ErrValidation("body", "malformed JSON"))
		return
	}
	userID := ps.ByName("user_id")
	override, err := s.store.UpsertUserQuota(userID, func(o *common.UserQuotaOverride) {
		o.UserID = userID
		if req.MaxRunning != nil {
			o.MaxRunning = req.MaxRunning
		}
		if req.MaxQueued != nil {
			o.MaxQueued = req.MaxQueued
		}
		if req.JobsPerDay != nil {
			o.JobsPerDay = req.JobsPerDay
		}
		if req.MaxStorageBytes != nil {
			o.MaxStorageBytes = req.MaxStorageBytes
		}
	})
	if err != nil {
		writeErr(s.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, override)
}
