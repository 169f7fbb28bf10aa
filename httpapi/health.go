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
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// readyz fails only while draining; a coordinator outage alone does not fail
// readiness because AutoQueue degrades to LocalQueue rather than refusing
// work (spec.md §4.6).
func (s *Server) readyz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if draining, _ := s.draining(); draining {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "draining"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ready"})
}

// metrics emits a minimal Prometheus text-exposition payload. A fuller
// registry (histograms per endpoint, queue depth gauges) is a natural
// follow-up once a metrics client library is wired in; for now this reports
// the counters the other core components already track.
func (s *Server) metrics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status := s.qbackend.Status(r.Context())
	global, _ := s.qbackend.GlobalCounts(r.Context())

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	healthy := 0
	if status.Healthy {
		healthy = 1
	}
	fmt.Fprintf(w, "dubqueue_backend_healthy %d\n", healthy)
	fmt.Fprintf(w, "dubqueue_queue_mode{mode=%q} 1\n", status.Mode.String())
	fmt.Fprintf(w, "dubqueue_jobs_running %d\n", global.Running)
	fmt.Fprintf(w, "dubqueue_jobs_queued %d\n", global.Queued)
}
