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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/blob"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/coordinator"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/executor"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/httpapi"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/media"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/pipeline"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/quota"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/queue"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/retention"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/statestore"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/upload"
)

var pipelineCommand []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "boot the dubqueue API server, worker pool, and retention sweeper",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringSliceVar(&pipelineCommand, "pipeline-command", nil,
		"argv of the external ASR/translation/TTS/mux command JobExecutor invokes per job; {video_path},{mode},{device},{job_id} are substituted")
}

// isDraining, when non-zero, reflects a SIGTERM/SIGINT in progress; read by
// both readyz and jobsCreate through the Draining callback wired below.
var isDraining int32

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := common.NewConfigFromEnvironment()
	if err != nil {
		return misconfigured(err.Error())
	}
	log := common.NopLogger

	store, err := statestore.Open(cfg.StateDir)
	if err != nil {
		return &cliError{ExitGeneric, fmt.Sprintf("open state store: %v", err)}
	}
	defer store.Close()

	coord := coordinator.NewMemory()

	var mirror upload.BlobMirror
	if cfg.BlobArchiveContainer != "" {
		mirror = blob.NewAzureMirror(cfg.BlobArchiveContainer, log)
	}
	validator := media.NewFFProbeValidator(cfg.FFProbePath, cfg.MaxVideoMinutes, cfg.MaxVideoWidth, cfg.MaxVideoHeight, cfg.MaxVideoPixels)
	uploads := upload.NewManager(store, cfg.InputDir, log, common.RealClock, mirror, nil, validator)

	enforcer := quota.NewEnforcer(coord, store, cfg.CoordinatorPrefix, common.RealClock)

	defaultQuota := common.QuotaSnapshot{
		MaxUploadBytes:    cfg.MaxUploadBytes,
		MaxStorageBytes:   cfg.MaxStorageBytes,
		JobsPerDay:        cfg.JobsPerDay,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		MaxQueuedJobs:     cfg.MaxQueuedJobs,
	}
	quotaLookup := func(ctx context.Context, userID string) (common.QuotaSnapshot, bool, error) {
		override, ok := store.GetUserQuota(userID)
		if !ok {
			return defaultQuota, false, nil
		}
		return quota.Resolve(defaultQuota, override), true, nil
	}
	roleLookup := func(ctx context.Context, userID string) (common.Role, error) {
		return common.ERole.Operator(), nil
	}

	var pipe executor.Pipeline
	if len(pipelineCommand) > 0 {
		pipe = pipeline.NewExternalCommand(pipelineCommand, log)
	} else {
		pipe = noopPipeline{}
	}

	var qbackend queue.Backend
	var cancels executor.CancelChecker // only DistributedQueue exposes a coordinator-held cancel key
	var stoppers []interface{ Stop() }

	var execu *executor.Executor
	dispatch := queue.Dispatcher(func(ctx context.Context, jobID string) {
		execu.Dispatch(ctx, jobID)
	})

	switch cfg.QueueMode {
	case common.EQueueMode.Local():
		local := queue.NewLocalQueue(store, log, common.RealClock, dispatch)
		qbackend = local
		stoppers = append(stoppers, local)
	case common.EQueueMode.Distributed():
		dq := queue.NewDistributedQueue(coord, cfg.CoordinatorPrefix, log, common.RealClock, dispatch, instanceID(), queue.DistributedQueueConfig{
			LockTTL:     cfg.LockTTL,
			LockRefresh: cfg.LockRefresh,
			MaxAttempts: cfg.MaxAttempts,
			BaseBackoff: cfg.BaseBackoff,
			BackoffCap:  cfg.BackoffCap,
		})
		qbackend = dq
		cancels = dq
		stoppers = append(stoppers, dq)
	default:
		dq := queue.NewDistributedQueue(coord, cfg.CoordinatorPrefix, log, common.RealClock, dispatch, instanceID(), queue.DistributedQueueConfig{
			LockTTL:     cfg.LockTTL,
			LockRefresh: cfg.LockRefresh,
			MaxAttempts: cfg.MaxAttempts,
			BaseBackoff: cfg.BaseBackoff,
			BackoffCap:  cfg.BackoffCap,
		})
		local := queue.NewLocalQueue(store, log, common.RealClock, dispatch)
		auto := queue.NewAutoQueue(dq, local, log)
		qbackend = auto
		cancels = dq // stale once AutoQueue falls back to local, but IsCanceled on an inactive coordinator key is harmless
		stoppers = append(stoppers, auto)
	}

	execu = executor.New(store, qbackend, cancels, roleLookup, pipe, log, common.RealClock, executor.Config{
		WorkerCount:       cfg.WorkerCount,
		GPUAvailable:      false,
		HighModeGlobalCap: cfg.HighModeGlobalCap,
		Quotas:            quotaLookup,
		DefaultQuota:      defaultQuota,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go qbackend.Run(ctx)

	if cfg.RetentionEnabled {
		sweeper := retention.NewSweeper(store, log, common.RealClock,
			cfg.OutputDir, cfg.InputDir, cfg.LogDir,
			time.Duration(cfg.RetentionDays)*24*time.Hour, cfg.UploadTTL, time.Duration(cfg.LogDays)*24*time.Hour)
		go runRetentionLoop(ctx, sweeper, cfg.RetentionPeriod)
	}

	draining := func() (bool, int) {
		return atomic.LoadInt32(&isDraining) != 0, int(cfg.DrainTimeout.Seconds())
	}
	server := httpapi.NewServer(store, uploads, qbackend, enforcer, nil, log, common.RealClock, cfg, draining)

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: server.Handler}
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		fmt.Fprintln(os.Stderr, "dubqueue: received", sig, "draining")
	case err := <-errCh:
		return &cliError{ExitGeneric, err.Error()}
	}

	atomic.StoreInt32(&isDraining, 1)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	for _, s := range stoppers {
		s.Stop()
	}
	cancel()
	return nil
}

func runRetentionLoop(ctx context.Context, sweeper *retention.Sweeper, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweeper.RunOnce()
		}
	}
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return fmt.Sprintf("dubqueue-%d", os.Getpid())
	}
	return strings.ToLower(host) + "-" + fmt.Sprint(os.Getpid())
}

// noopPipeline is the zero-configuration Pipeline: it marks every job done
// immediately. Real deployments pass --pipeline-command to wire in the
// actual ASR/translation/TTS/mux external collaborator.
type noopPipeline struct{}

func (noopPipeline) Run(ctx context.Context, job *common.Job, progress chan<- executor.ProgressEvent) error {
	progress <- executor.ProgressEvent{Progress: 1, Message: "noop pipeline"}
	return nil
}
