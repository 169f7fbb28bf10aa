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
	"os"
	"strconv"
	"time"
)

// EnvironmentVariable documents one recognized environment variable, following
// the same self-describing-struct idiom the rest of the ambient config uses.
type EnvironmentVariable struct {
	Name         string
	DefaultValue string
	Description  string
}

// GetEnvironmentVariable returns the process value of env, or its default.
func GetEnvironmentVariable(env EnvironmentVariable) string {
	if v := os.Getenv(env.Name); v != "" {
		return v
	}
	return env.DefaultValue
}

type environmentVariables struct{}

// EEnvironmentVariable is the canonical accessor for every variable in
// spec.md §6.3, mirroring the teacher's EEnvironmentVariable enum idiom.
var EEnvironmentVariable environmentVariables

func (environmentVariables) OutputDir() EnvironmentVariable {
	return EnvironmentVariable{"OUTPUT_DIR", "./data/output", "root directory for job artifacts"}
}
func (environmentVariables) StateDir() EnvironmentVariable {
	return EnvironmentVariable{"STATE_DIR", "./data/state", "root directory for the durable job/upload store"}
}
func (environmentVariables) InputDir() EnvironmentVariable {
	return EnvironmentVariable{"INPUT_DIR", "./data/input", "root directory for uploaded source media"}
}
func (environmentVariables) LogDir() EnvironmentVariable {
	return EnvironmentVariable{"LOG_DIR", "./data/logs", "root directory for rotating logs"}
}
func (environmentVariables) UploadChunkBytes() EnvironmentVariable {
	return EnvironmentVariable{"UPLOAD_CHUNK_BYTES", "1048576", "default resumable-upload chunk size in bytes"}
}
func (environmentVariables) CoordinatorURL() EnvironmentVariable {
	return EnvironmentVariable{"COORDINATOR_URL", "", "address of the external keyed coordinator; empty selects the in-process reference implementation"}
}
func (environmentVariables) CoordinatorPrefix() EnvironmentVariable {
	return EnvironmentVariable{"COORDINATOR_PREFIX", "dubqueue", "key namespace prefix for all coordinator keys"}
}
func (environmentVariables) QueueMode() EnvironmentVariable {
	return EnvironmentVariable{"QUEUE_MODE", "auto", "auto|distributed|local"}
}
func (environmentVariables) LockTTLMs() EnvironmentVariable {
	return EnvironmentVariable{"LOCK_TTL_MS", "300000", "claim lock TTL in milliseconds"}
}
func (environmentVariables) LockRefreshMs() EnvironmentVariable {
	return EnvironmentVariable{"LOCK_REFRESH_MS", "90000", "claim lock refresh interval in milliseconds"}
}
func (environmentVariables) MaxAttempts() EnvironmentVariable {
	return EnvironmentVariable{"MAX_ATTEMPTS", "8", "attempts before a job is moved to the dead-letter queue"}
}
func (environmentVariables) BaseBackoffMs() EnvironmentVariable {
	return EnvironmentVariable{"BASE_BACKOFF_MS", "750", "base delay for deferred-retry backoff"}
}
func (environmentVariables) BackoffCapMs() EnvironmentVariable {
	return EnvironmentVariable{"BACKOFF_CAP_MS", "30000", "backoff ceiling"}
}
func (environmentVariables) DrainTimeoutSec() EnvironmentVariable {
	return EnvironmentVariable{"DRAIN_TIMEOUT_SEC", "60", "grace period for inflight jobs during shutdown"}
}
func (environmentVariables) MinFreeGB() EnvironmentVariable {
	return EnvironmentVariable{"MIN_FREE_GB", "5", "minimum free disk space in GB; parsed into Config, not checked by any component"}
}
func (environmentVariables) RetentionEnabled() EnvironmentVariable {
	return EnvironmentVariable{"RETENTION_ENABLED", "true", "enable the periodic retention sweeper"}
}
func (environmentVariables) RetentionDays() EnvironmentVariable {
	return EnvironmentVariable{"RETENTION_DAYS", "30", "age in days after which non-pinned terminal jobs are eligible for deletion"}
}
func (environmentVariables) RetentionIntervalSec() EnvironmentVariable {
	return EnvironmentVariable{"RETENTION_INTERVAL_SEC", "3600", "retention sweep period"}
}
func (environmentVariables) UploadTTLHours() EnvironmentVariable {
	return EnvironmentVariable{"UPLOAD_TTL_HOURS", "24", "age after which an incomplete upload session is abandoned"}
}
func (environmentVariables) LogDays() EnvironmentVariable {
	return EnvironmentVariable{"LOG_DAYS", "14", "age in days after which log files are deleted"}
}
func (environmentVariables) JobsPerDay() EnvironmentVariable {
	return EnvironmentVariable{"JOBS_PER_DAY", "50", "default daily job submission cap per user"}
}
func (environmentVariables) MaxConcurrentJobs() EnvironmentVariable {
	return EnvironmentVariable{"MAX_CONCURRENT_JOBS", "2", "default per-user concurrent RUNNING job cap"}
}
func (environmentVariables) MaxQueuedJobs() EnvironmentVariable {
	return EnvironmentVariable{"MAX_QUEUED_JOBS", "10", "default per-user QUEUED job cap"}
}
func (environmentVariables) MaxUploadBytes() EnvironmentVariable {
	return EnvironmentVariable{"MAX_UPLOAD_BYTES", "10737418240", "default per-upload byte ceiling (10 GiB)"}
}
func (environmentVariables) MaxStorageBytes() EnvironmentVariable {
	return EnvironmentVariable{"MAX_STORAGE_BYTES", "107374182400", "default per-user total storage ceiling (100 GiB)"}
}
func (environmentVariables) HighModeGlobalCap() EnvironmentVariable {
	return EnvironmentVariable{"HIGH_MODE_GLOBAL_CAP", "4", "max concurrently RUNNING high-mode jobs cluster-wide"}
}
func (environmentVariables) WorkerCount() EnvironmentVariable {
	return EnvironmentVariable{"WORKER_COUNT", "4", "number of JobExecutor worker slots per process"}
}
func (environmentVariables) ListenAddr() EnvironmentVariable {
	return EnvironmentVariable{"LISTEN_ADDR", ":8080", "HTTP API listen address"}
}
func (environmentVariables) CookieSecure() EnvironmentVariable {
	return EnvironmentVariable{"COOKIE_SECURE", "true", "require Secure flag on session cookies"}
}
func (environmentVariables) TrustProxyHeaders() EnvironmentVariable {
	return EnvironmentVariable{"TRUST_PROXY_HEADERS", "false", "honor X-Forwarded-For / X-Forwarded-Proto"}
}
func (environmentVariables) TrustedProxySubnets() EnvironmentVariable {
	return EnvironmentVariable{"TRUSTED_PROXY_SUBNETS", "", "comma-separated CIDRs trusted to set proxy headers"}
}
func (environmentVariables) AllowedSubnets() EnvironmentVariable {
	return EnvironmentVariable{"ALLOWED_SUBNETS", "", "comma-separated CIDRs allowed to reach the admin API"}
}
func (environmentVariables) BlobArchiveContainer() EnvironmentVariable {
	return EnvironmentVariable{"BLOB_ARCHIVE_CONTAINER", "", "optional Azure Blob container URL mirrored on upload completion"}
}
func (environmentVariables) FFProbePath() EnvironmentVariable {
	return EnvironmentVariable{"FFPROBE_PATH", "ffprobe", "path to the ffprobe binary used to validate completed uploads"}
}
func (environmentVariables) MaxVideoMinutes() EnvironmentVariable {
	return EnvironmentVariable{"MAX_VIDEO_MINUTES", "180", "reject uploads whose probed duration exceeds this many minutes"}
}
func (environmentVariables) MaxVideoWidth() EnvironmentVariable {
	return EnvironmentVariable{"MAX_VIDEO_WIDTH", "0", "reject uploads wider than this many pixels; 0 disables the check"}
}
func (environmentVariables) MaxVideoHeight() EnvironmentVariable {
	return EnvironmentVariable{"MAX_VIDEO_HEIGHT", "0", "reject uploads taller than this many pixels; 0 disables the check"}
}
func (environmentVariables) MaxVideoPixels() EnvironmentVariable {
	return EnvironmentVariable{"MAX_VIDEO_PIXELS", "0", "reject uploads whose width*height exceeds this; 0 disables the check"}
}

// Config is the process-lifecycle settings object spec.md §9 asks for: built
// once from the environment and passed explicitly into every component,
// never read back out of package-level globals.
type Config struct {
	OutputDir  string
	StateDir   string
	InputDir   string
	LogDir     string

	UploadChunkBytes int64

	CoordinatorURL    string
	CoordinatorPrefix string
	QueueMode         QueueMode

	LockTTL         time.Duration
	LockRefresh     time.Duration
	MaxAttempts     int
	BaseBackoff     time.Duration
	BackoffCap      time.Duration
	DrainTimeout    time.Duration
	MinFreeGB       int64

	RetentionEnabled bool
	RetentionDays    int
	RetentionPeriod  time.Duration
	UploadTTL        time.Duration
	LogDays          int

	JobsPerDay        int64
	MaxConcurrentJobs int64
	MaxQueuedJobs     int64
	MaxUploadBytes    int64
	MaxStorageBytes   int64
	HighModeGlobalCap int64

	WorkerCount int

	ListenAddr          string
	CookieSecure        bool
	TrustProxyHeaders   bool
	TrustedProxySubnets string
	AllowedSubnets      string

	BlobArchiveContainer string

	FFProbePath     string
	MaxVideoMinutes int64
	MaxVideoWidth   int64
	MaxVideoHeight  int64
	MaxVideoPixels  int64
}

func mustParseInt64(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func mustParseInt(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func mustParseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

// NewConfigFromEnvironment assembles a Config from the process environment,
// applying the defaults declared in EEnvironmentVariable.
func NewConfigFromEnvironment() (*Config, error) {
	get := GetEnvironmentVariable
	var qm QueueMode
	if err := qm.Parse(get(EEnvironmentVariable.QueueMode())); err != nil {
		return nil, err
	}
	return &Config{
		OutputDir: get(EEnvironmentVariable.OutputDir()),
		StateDir:  get(EEnvironmentVariable.StateDir()),
		InputDir:  get(EEnvironmentVariable.InputDir()),
		LogDir:    get(EEnvironmentVariable.LogDir()),

		UploadChunkBytes: mustParseInt64(get(EEnvironmentVariable.UploadChunkBytes())),

		CoordinatorURL:    get(EEnvironmentVariable.CoordinatorURL()),
		CoordinatorPrefix: get(EEnvironmentVariable.CoordinatorPrefix()),
		QueueMode:         qm,

		LockTTL:      time.Duration(mustParseInt64(get(EEnvironmentVariable.LockTTLMs()))) * time.Millisecond,
		LockRefresh:  time.Duration(mustParseInt64(get(EEnvironmentVariable.LockRefreshMs()))) * time.Millisecond,
		MaxAttempts:  mustParseInt(get(EEnvironmentVariable.MaxAttempts())),
		BaseBackoff:  time.Duration(mustParseInt64(get(EEnvironmentVariable.BaseBackoffMs()))) * time.Millisecond,
		BackoffCap:   time.Duration(mustParseInt64(get(EEnvironmentVariable.BackoffCapMs()))) * time.Millisecond,
		DrainTimeout: time.Duration(mustParseInt64(get(EEnvironmentVariable.DrainTimeoutSec()))) * time.Second,
		MinFreeGB:    mustParseInt64(get(EEnvironmentVariable.MinFreeGB())),

		RetentionEnabled: mustParseBool(get(EEnvironmentVariable.RetentionEnabled())),
		RetentionDays:    mustParseInt(get(EEnvironmentVariable.RetentionDays())),
		RetentionPeriod:  time.Duration(mustParseInt64(get(EEnvironmentVariable.RetentionIntervalSec()))) * time.Second,
		UploadTTL:        time.Duration(mustParseInt64(get(EEnvironmentVariable.UploadTTLHours()))) * time.Hour,
		LogDays:          mustParseInt(get(EEnvironmentVariable.LogDays())),

		JobsPerDay:        mustParseInt64(get(EEnvironmentVariable.JobsPerDay())),
		MaxConcurrentJobs: mustParseInt64(get(EEnvironmentVariable.MaxConcurrentJobs())),
		MaxQueuedJobs:     mustParseInt64(get(EEnvironmentVariable.MaxQueuedJobs())),
		MaxUploadBytes:    mustParseInt64(get(EEnvironmentVariable.MaxUploadBytes())),
		MaxStorageBytes:   mustParseInt64(get(EEnvironmentVariable.MaxStorageBytes())),
		HighModeGlobalCap: mustParseInt64(get(EEnvironmentVariable.HighModeGlobalCap())),

		WorkerCount: mustParseInt(get(EEnvironmentVariable.WorkerCount())),

		ListenAddr:          get(EEnvironmentVariable.ListenAddr()),
		CookieSecure:        mustParseBool(get(EEnvironmentVariable.CookieSecure())),
		TrustProxyHeaders:   mustParseBool(get(EEnvironmentVariable.TrustProxyHeaders())),
		TrustedProxySubnets: get(EEnvironmentVariable.TrustedProxySubnets()),
		AllowedSubnets:      get(EEnvironmentVariable.AllowedSubnets()),

		BlobArchiveContainer: get(EEnvironmentVariable.BlobArchiveContainer()),

		FFProbePath:     get(EEnvironmentVariable.FFProbePath()),
		MaxVideoMinutes: mustParseInt64(get(EEnvironmentVariable.MaxVideoMinutes())),
		MaxVideoWidth:   mustParseInt64(get(EEnvironmentVariable.MaxVideoWidth())),
		MaxVideoHeight:  mustParseInt64(get(EEnvironmentVariable.MaxVideoHeight())),
		MaxVideoPixels:  mustParseInt64(get(EEnvironmentVariable.MaxVideoPixels())),
	}, nil
}
