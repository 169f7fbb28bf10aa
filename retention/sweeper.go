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

// Package retention implements the periodic sweeper of spec.md §4.11:
// abandoned uploads, stale job artifacts, and old logs, all gated by a
// strict path-containment check so a corrupted or maliciously-crafted path
// can never cause a deletion outside its designated root.
package retention

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/statestore"
)

// Store is the narrow StateStore surface RetentionSweeper depends on.
type Store interface {
	ListJobs(limit int, filter statestore.JobFilter) []*common.Job
	DeleteJob(id string) error
	ListUploads(owner string, includeCompleted bool) []*common.UploadSession
	DeleteUpload(id string) error
}

// AuditEvent is emitted whenever a deletion is skipped because a path fell
// outside its root, the safety-invariant breach spec.md §4.11 calls out.
type AuditEvent struct {
	Kind   string
	ID     string
	Path   string
	Reason string
}

// Sweeper runs the three retention passes.
type Sweeper struct {
	store Store
	log   common.ILogger
	clock common.Clock

	outputRoot  string
	stagingRoot string
	logsRoot    string

	retentionAge time.Duration
	uploadTTL    time.Duration
	logAge       time.Duration

	audit []AuditEvent
}

func NewSweeper(store Store, log common.ILogger, clock common.Clock, outputRoot, stagingRoot, logsRoot string, retentionAge, uploadTTL, logAge time.Duration) *Sweeper {
	if clock == nil {
		clock = common.RealClock
	}
	if log == nil {
		log = common.NopLogger
	}
	return &Sweeper{
		store:        store,
		log:          log,
		clock:        clock,
		outputRoot:   outputRoot,
		stagingRoot:  stagingRoot,
		logsRoot:     logsRoot,
		retentionAge: retentionAge,
		uploadTTL:    uploadTTL,
		logAge:       logAge,
	}
}

// underRoot resolves both paths to absolute form and reports whether path is
// strictly contained within root (never equal to root itself, and never
// escaping via ".." or a symlink-free lexical traversal).
func underRoot(root, path string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	absRoot = filepath.Clean(absRoot)
	absPath = filepath.Clean(absPath)
	if absPath == absRoot {
		return absPath, false
	}
	return absPath, strings.HasPrefix(absPath, absRoot+string(filepath.Separator))
}

func (s *Sweeper) auditf(kind, id, path, reason string) {
	s.audit = append(s.audit, AuditEvent{Kind: kind, ID: id, Path: path, Reason: reason})
	s.log.Log(common.LogWarning, "retention: refused to delete "+path+" ("+kind+" "+id+"): "+reason)
}

// AuditLog returns every containment-violation event recorded since the
// sweeper was constructed (or since the last RunOnce, if callers choose to
// clear it between runs).
func (s *Sweeper) AuditLog() []AuditEvent { return s.audit }

// RunOnce performs all three passes, matching the CLI's `retention sweep`
// one-shot entry point as well as the periodic background loop.
func (s *Sweeper) RunOnce() {
	s.sweepAbandonedUploads()
	s.sweepOldJobArtifacts()
	s.sweepOldLogs()
}

func (s *Sweeper) sweepAbandonedUploads() {
	cutoff := s.clock.Now().Add(-s.uploadTTL)
	for _, u := range s.store.ListUploads("", true) {
		if u.Completed || !u.UpdatedAt.Before(cutoff) {
			continue
		}
		ok := true
		for _, p := range []string{u.PartPath, u.FinalPath} {
			if p == "" {
				continue
			}
			abs, safe := underRoot(s.stagingRoot, p)
			if !safe {
				s.auditf("upload", u.ID, p, "resolved outside staging root")
				ok = false
				continue
			}
			if err := removeIfExists(abs); err != nil {
				s.log.Log(common.LogWarning, "retention: delete "+abs+": "+err.Error())
				ok = false
			}
		}
		if ok {
			if err := s.store.DeleteUpload(u.ID); err != nil {
				s.log.Log(common.LogWarning, "retention: delete upload record "+u.ID+": "+err.Error())
			}
		}
	}
}

func (s *Sweeper) sweepOldJobArtifacts() {
	cutoff := s.clock.Now().Add(-s.retentionAge)
	for _, j := range s.store.ListJobs(0, statestore.JobFilter{}) {
		if j.State == common.EJobState.Running() || j.State == common.EJobState.Queued() || j.State == common.EJobState.Paused() {
			continue
		}
		if j.Runtime.Pinned() || j.Runtime.Archived() {
			continue
		}
		if !j.UpdatedAt.Before(cutoff) {
			continue
		}
		artifactDir := filepath.Join(s.outputRoot, j.ID)
		abs, safe := underRoot(s.outputRoot, artifactDir)
		if !safe {
			s.auditf("job", j.ID, artifactDir, "resolved outside output root")
			continue
		}
		if err := removeIfExists(abs); err != nil {
			s.log.Log(common.LogWarning, "retention: delete job artifacts "+abs+": "+err.Error())
			continue
		}
		if err := s.store.DeleteJob(j.ID); err != nil {
			s.log.Log(common.LogWarning, "retention: delete job record "+j.ID+": "+err.Error())
		}
	}
}

func (s *Sweeper) sweepOldLogs() {
	if s.logsRoot == "" {
		return
	}
	cutoff := s.clock.Now().Add(-s.logAge)
	entries, err := listDir(s.logsRoot)
	if err != nil {
		s.log.Log(common.LogWarning, "retention: list logs dir: "+err.Error())
		return
	}
	for _, e := range entries {
		full := filepath.Join(s.logsRoot, e.name)
		abs, safe := underRoot(s.logsRoot, full)
		if !safe {
			s.auditf("log", e.name, full, "resolved outside logs root")
			continue
		}
		if e.modTime.After(cutoff) {
			continue
		}
		if err := removeIfExists(abs); err != nil {
			s.log.Log(common.LogWarning, "retention: delete log "+abs+": "+err.Error())
		}
	}
}
