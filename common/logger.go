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
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type LogLevel uint8

const (
	LogPanic LogLevel = iota
	LogError
	LogWarning
	LogInfo
	LogDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogPanic:
		return "PANIC"
	case LogError:
		return "ERROR"
	case LogWarning:
		return "WARN"
	case LogInfo:
		return "INFO"
	case LogDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ILogger is the minimal logging surface every component takes by
// injection, mirroring the teacher's common.ILogger family.
type ILogger interface {
	ShouldLog(level LogLevel) bool
	Log(level LogLevel, msg string)
	Panic(err error)
}

type ILoggerCloser interface {
	ILogger
	CloseLog()
}

// stdLogger writes to an underlying *log.Logger with a minimum level filter.
// It is safe for concurrent use, as every component (queue loops, executors,
// the HTTP layer) logs from its own goroutine.
type stdLogger struct {
	mu       sync.Mutex
	minLevel LogLevel
	prefix   string
	dest     *log.Logger
	closer   io.Closer
}

// NewAppLogger builds the single process-wide logger, analogous to the
// teacher's glcm-held app logger: one instance, passed down explicitly.
func NewAppLogger(minLevel LogLevel, w io.Writer) ILoggerCloser {
	return &stdLogger{minLevel: minLevel, dest: log.New(w, "", log.LstdFlags|log.LUTC)}
}

// NewJobLogger opens (creating if needed) <logDir>/<jobID>.log and returns a
// logger scoped to that job, the same one-log-file-per-job convention the
// teacher uses for common.NewJobLogger.
func NewJobLogger(jobID string, minLevel LogLevel, logDir string) (ILoggerCloser, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, Wrap(err, "create log dir")
	}
	f, err := os.OpenFile(filepath.Join(logDir, jobID+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, Wrap(err, "open job log")
	}
	return &stdLogger{
		minLevel: minLevel,
		prefix:   fmt.Sprintf("[job %s] ", jobID),
		dest:     log.New(f, "", log.LstdFlags|log.LUTC),
		closer:   f,
	}, nil
}

func (l *stdLogger) ShouldLog(level LogLevel) bool {
	return level <= l.minLevel
}

func (l *stdLogger) Log(level LogLevel, msg string) {
	if !l.ShouldLog(level) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dest.Printf("%s%s: %s%s", l.prefix, level, msg, l.suffix())
}

func (l *stdLogger) suffix() string { return "" }

func (l *stdLogger) Panic(err error) {
	l.Log(LogPanic, err.Error())
	panic(err)
}

func (l *stdLogger) CloseLog() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer != nil {
		_ = l.closer.Close()
	}
}

// NopLogger discards everything; used in tests the way the teacher's tests
// pass a no-op ILogger into components that require one.
type nopLogger struct{}

func (nopLogger) ShouldLog(LogLevel) bool { return false }
func (nopLogger) Log(LogLevel, string)    {}
func (nopLogger) Panic(err error)         { panic(err) }
func (nopLogger) CloseLog()               {}

var NopLogger ILoggerCloser = nopLogger{}

// Clock abstracts wall-clock time so TTL/backoff arithmetic can be tested
// deterministically (spec.md §9 clock-assumptions design note: UTC wall
// clock, not monotonic).
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

var RealClock Clock = realClock{}

// SecondsUntilNextUTCMidnight computes the daily-quota reset window per
// spec.md §9.
func SecondsUntilNextUTCMidnight(now time.Time) int {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return int(next.Sub(now).Seconds())
}
