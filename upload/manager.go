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

// Package upload implements the resumable chunked upload protocol of
// spec.md §4.9. Each session writes into a single preallocated .part file at
// the chunk's fixed offset (the same positioned-write technique the teacher
// uses in ste/MMapFileHandler.go for out-of-order chunk delivery), so chunks
// may arrive, retry, and complete in any order.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
)

// Store is the narrow StateStore surface this package depends on.
type Store interface {
	PutUpload(u *common.UploadSession) error
	GetUpload(id string) (*common.UploadSession, bool)
	UpdateUpload(id string, fn func(*common.UploadSession) error) (*common.UploadSession, error)
	DeleteUpload(id string) error
	ListUploads(owner string, includeCompleted bool) []*common.UploadSession
}

// BlobMirror optionally copies a completed upload to external object
// storage once it lands on local disk; the real implementation is
// blob.AzureMirror (storage/azblob-backed), wired only when
// BLOB_ARCHIVE_CONTAINER is configured.
type BlobMirror interface {
	Mirror(ctx context.Context, localPath, uploadID string) error
}

// nopMirror is the default no-op BlobMirror.
type nopMirror struct{}

func (nopMirror) Mirror(context.Context, string, string) error { return nil }

// Encryptor optionally encrypts final upload bytes at rest. The reference
// implementation leaves this nil (spec.md's Non-goals exclude at-rest
// encryption as a shipped feature), but the seam exists so a real one can be
// dropped in without touching the chunk-write path.
type Encryptor interface {
	EncryptFile(path string) error
}

// MediaValidator inspects an assembled upload before it is exposed as a
// job's video_path, the same gate the original system's uploads_complete
// route runs (_validate_media_or_400) before marking an upload done. A
// non-nil error means the file is rejected; Manager deletes the staged part
// and never renames it into place.
type MediaValidator interface {
	Validate(path string) error
}

// nopValidator is the default no-op MediaValidator.
type nopValidator struct{}

func (nopValidator) Validate(string) error { return nil }

// Manager implements UploadSessionManager.
type Manager struct {
	store     Store
	inputDir  string
	log       common.ILogger
	clock     common.Clock
	mirror    BlobMirror
	encryptor Encryptor
	validator MediaValidator

	mu        sync.Mutex
	sessionMu map[string]*sync.Mutex
}

func NewManager(store Store, inputDir string, log common.ILogger, clock common.Clock, mirror BlobMirror, encryptor Encryptor, validator MediaValidator) *Manager {
	if clock == nil {
		clock = common.RealClock
	}
	if log == nil {
		log = common.NopLogger
	}
	if mirror == nil {
		mirror = nopMirror{}
	}
	if validator == nil {
		validator = nopValidator{}
	}
	return &Manager{
		store:     store,
		inputDir:  inputDir,
		log:       log,
		clock:     clock,
		mirror:    mirror,
		encryptor: encryptor,
		validator: validator,
		sessionMu: map[string]*sync.Mutex{},
	}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.sessionMu[id]
	if !ok {
		l = &sync.Mutex{}
		m.sessionMu[id] = l
	}
	return l
}

// Init creates a new session and preallocates its .part file to totalBytes,
// the same sparse-preallocate strategy the teacher's downloader uses before
// writing chunks out of order.
func (m *Manager) Init(ctx context.Context, ownerID, filename string, totalBytes, chunkBytes int64, expectedSHA256 string) (*common.UploadSession, error) {
	if totalBytes <= 0 {
		return nil, common.ErrValidation("total_bytes", "must be positive")
	}
	if chunkBytes <= 0 {
		return nil, common.ErrValidation("chunk_bytes", "must be positive")
	}

	id := "up_" + common.NewUploadID()
	now := m.clock.Now()
	totalChunks := int((totalBytes + chunkBytes - 1) / chunkBytes)

	partPath := filepath.Join(m.inputDir, id+".part")
	finalPath := filepath.Join(m.inputDir, id+"_"+filepath.Base(filename))

	if err := os.MkdirAll(m.inputDir, 0o755); err != nil {
		return nil, common.Wrap(err, "create input dir")
	}
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, common.Wrap(err, "create part file")
	}
	if err := f.Truncate(totalBytes); err != nil {
		f.Close()
		return nil, common.Wrap(err, "preallocate part file")
	}
	if err := f.Close(); err != nil {
		return nil, common.Wrap(err, "close part file")
	}

	session := &common.UploadSession{
		ID:             id,
		OwnerID:        ownerID,
		Filename:       filename,
		TotalBytes:     totalBytes,
		ChunkBytes:     chunkBytes,
		TotalChunks:    totalChunks,
		PartPath:       partPath,
		FinalPath:      finalPath,
		Received:       map[int]common.ReceivedChunk{},
		ExpectedSHA256: expectedSHA256,
		State:          common.EUploadState.Init(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.PutUpload(session); err != nil {
		return nil, common.Wrap(err, "persist upload session")
	}
	return session, nil
}

// WriteChunk writes one chunk at its fixed offset, verifying its declared
// size against ExpectedChunkSize and, when sha256 is non-empty, the chunk's
// own checksum. Re-sending an already-received chunk with the same content
// is a no-op (idempotent retry); re-sending with different content is a
// conflict.
func (m *Manager) WriteChunk(ctx context.Context, sessionID string, index int, sha256Hex string, r io.Reader) (*common.UploadSession, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, ok := m.store.GetUpload(sessionID)
	if !ok {
		return nil, common.ErrNotFound("upload", sessionID)
	}
	if session.Completed {
		return nil, common.ErrConflict("upload_completed", "upload session already completed")
	}
	if index < 0 || index >= session.TotalChunks {
		return nil, common.ErrRangeInvalid("chunk index out of range")
	}

	expectedSize := session.ExpectedChunkSize(index)
	offset := session.ExpectedOffset(index)

	hasher := sha256.New()
	buf, err := io.ReadAll(io.TeeReader(r, hasher))
	if err != nil {
		return nil, common.Wrap(err, "read chunk body")
	}
	if int64(len(buf)) != expectedSize {
		return nil, common.ErrRangeInvalid("chunk size does not match expected offset/size")
	}
	sum := hex.EncodeToString(hasher.Sum(nil))
	if sha256Hex != "" && sha256Hex != sum {
		return nil, common.ErrIntegrity("chunk sha256 mismatch")
	}

	if existing, already := session.Received[index]; already {
		if existing.SHA256 == sum {
			return session.Clone(), nil // idempotent replay
		}
		return nil, common.ErrConflict("chunk_mismatch", "chunk already received with different content")
	}

	f, err := os.OpenFile(session.PartPath, os.O_WRONLY, 0o644)
	if err != nil {
		return nil, common.Wrap(err, "open part file")
	}
	_, werr := f.WriteAt(buf, offset)
	cerr := f.Close()
	if werr != nil {
		return nil, common.Wrap(werr, "write chunk")
	}
	if cerr != nil {
		return nil, common.Wrap(cerr, "close part file after write")
	}

	return m.store.UpdateUpload(sessionID, func(u *common.UploadSession) error {
		u.Received[index] = common.ReceivedChunk{Offset: offset, Size: expectedSize, SHA256: sum}
		u.RecomputeReceivedBytes()
		u.State = common.EUploadState.InProgress()
		u.Touch(m.clock.Now())
		return nil
	})
}

// Resume returns the sorted list of chunk indexes still missing, the exact
// contract an interrupted client calls before continuing.
func (m *Manager) Resume(ctx context.Context, sessionID string) ([]int, *common.UploadSession, error) {
	session, ok := m.store.GetUpload(sessionID)
	if !ok {
		return nil, nil, common.ErrNotFound("upload", sessionID)
	}
	return session.MissingChunks(), session, nil
}

// Complete verifies every chunk has arrived, optionally verifies a
// whole-file checksum, runs media validation, renames the part file into
// place, optionally encrypts, and optionally mirrors to blob storage.
func (m *Manager) Complete(ctx context.Context, sessionID string) (*common.UploadSession, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, ok := m.store.GetUpload(sessionID)
	if !ok {
		return nil, common.ErrNotFound("upload", sessionID)
	}
	if session.Completed {
		return session, nil
	}
	if missing := session.MissingChunks(); len(missing) > 0 {
		return nil, common.ErrConflict("upload_incomplete", "chunks still missing")
	}

	finalSum, err := fileSHA256(session.PartPath)
	if err != nil {
		return nil, common.Wrap(err, "checksum final upload")
	}
	if session.ExpectedSHA256 != "" && session.ExpectedSHA256 != finalSum {
		return nil, common.ErrIntegrity("final upload sha256 mismatch")
	}

	if err := m.validator.Validate(session.PartPath); err != nil {
		if rmErr := os.Remove(session.PartPath); rmErr != nil && !os.IsNotExist(rmErr) {
			m.log.Log(common.LogWarning, "delete rejected upload "+sessionID+": "+rmErr.Error())
		}
		return nil, common.ErrValidation("video", "media validation failed: "+err.Error())
	}

	if err := os.Rename(session.PartPath, session.FinalPath); err != nil {
		return nil, common.Wrap(err, "finalize upload path")
	}

	if m.encryptor != nil {
		if err := m.encryptor.EncryptFile(session.FinalPath); err != nil {
			return nil, common.Wrap(err, "encrypt final upload")
		}
	}

	updated, err := m.store.UpdateUpload(sessionID, func(u *common.UploadSession) error {
		u.Completed = true
		u.FinalSHA256 = finalSum
		u.State = common.EUploadState.Completed()
		if m.encryptor != nil {
			u.Encrypted = true
		}
		u.Touch(m.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := m.mirror.Mirror(ctx, session.FinalPath, sessionID); err != nil {
		m.log.Log(common.LogWarning, "blob mirror failed for "+sessionID+": "+err.Error())
	}

	return updated, nil
}

// Abandon marks an expired, never-completed session so RetentionSweeper can
// reclaim its disk space.
func (m *Manager) Abandon(ctx context.Context, sessionID string) error {
	_, err := m.store.UpdateUpload(sessionID, func(u *common.UploadSession) error {
		if u.Completed {
			return common.ErrConflict("upload_completed", "cannot abandon a completed upload")
		}
		u.State = common.EUploadState.Abandoned()
		u.Touch(m.clock.Now())
		return nil
	})
	return err
}

// StaleSessions returns incomplete sessions whose last activity predates
// cutoff, for RetentionSweeper's abandoned-upload pass.
func (m *Manager) StaleSessions(cutoff time.Time) []*common.UploadSession {
	all := m.store.ListUploads("", false)
	var out []*common.UploadSession
	for _, s := range all {
		if !s.Completed && s.UpdatedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
