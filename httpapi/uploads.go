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
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/quota"
)

type initUploadRequest struct {
	Filename       string `json:"filename"`
	TotalBytes     int64  `json:"total_bytes"`
	Mime           string `json:"mime"`
	ExpectedSHA256 string `json:"expected_sha256"`
}

type initUploadResponse struct {
	UploadID    string `json:"upload_id"`
	ChunkBytes  int64  `json:"chunk_bytes"`
	TotalChunks int    `json:"total_chunks"`
}

func (s *Server) uploadsInit(w http.ResponseWriter, r *http.Request, _ httprouter.Params, p Principal) {
	var req initUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(s.log, w, common.ErrValidation("body", "malformed JSON"))
		return
	}
	if err := quota.RequireUploadBytes(req.TotalBytes, s.resolveQuota(p.UserID).MaxUploadBytes); err != nil {
		writeErr(s.log, w, err)
		return
	}
	session, err := s.uploads.Init(r.Context(), p.UserID, req.Filename, req.TotalBytes, s.cfg.UploadChunkBytes, req.ExpectedSHA256)
	if err != nil {
		writeErr(s.log, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, initUploadResponse{
		UploadID:    session.ID,
		ChunkBytes:  session.ChunkBytes,
		TotalChunks: session.TotalChunks,
	})
}

type chunkResponse struct {
	ReceivedBytes int64 `json:"received_bytes"`
	Dedup         bool  `json:"dedup,omitempty"`
}

func (s *Server) uploadsChunk(w http.ResponseWriter, r *http.Request, ps httprouter.Params, p Principal) {
	id := ps.ByName("id")
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil {
		writeErr(s.log, w, common.ErrValidation("index", "must be an integer"))
		return
	}
	sha := r.Header.Get("X-Chunk-Sha256")

	session, err := s.uploads.WriteChunk(r.Context(), id, index, sha, r.Body)
	if err != nil {
		writeErr(s.log, w, err)
		return
	}
	if err := quota.RequireUploadProgress(session.ReceivedBytes, session.TotalBytes, s.resolveQuota(p.UserID).MaxUploadBytes); err != nil {
		writeErr(s.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, chunkResponse{ReceivedBytes: session.ReceivedBytes})
}

type completeUploadRequest struct {
	FinalSHA256 string `json:"final_sha256"`
}

type completeUploadResponse struct {
	VideoPath   string `json:"video_path"`
	FinalSHA256 string `json:"final_sha256"`
}

func (s *Server) uploadsComplete(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ Principal) {
	var req completeUploadRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	session, err := s.uploads.Complete(r.Context(), ps.ByName("id"))
	if err != nil {
		writeErr(s.log, w, err)
		return
	}
	if req.FinalSHA256 != "" && req.FinalSHA256 != session.FinalSHA256 {
		writeErr(s.log, w, common.ErrIntegrity("final_sha256 does not match computed checksum"))
		return
	}
	writeJSON(w, http.StatusOK, completeUploadResponse{VideoPath: session.FinalPath, FinalSHA256: session.FinalSHA256})
}

type uploadStatusResponse struct {
	State              string `json:"state"`
	BytesReceived      int64  `json:"bytes_received"`
	NextExpectedChunk  int    `json:"next_expected_chunk"`
}

func (s *Server) uploadsStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ Principal) {
	missing, session, err := s.uploads.Resume(r.Context(), ps.ByName("id"))
	if err != nil {
		writeErr(s.log, w, err)
		return
	}
	next := session.TotalChunks
	if len(missing) > 0 {
		next = missing[0]
	}
	writeJSON(w, http.StatusOK, uploadStatusResponse{
		State:             session.State.String(),
		BytesReceived:     session.ReceivedBytes,
		NextExpectedChunk: next,
	})
}
