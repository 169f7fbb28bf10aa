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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/retention"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/statestore"
)

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "run retention maintenance directly against STATE_DIR",
}

// retentionSweepCmd runs one sweep pass out-of-process, the run_once
// callable spec.md §4.11 asks for, useful for driving the sweeper from an
// external cron instead of the in-process periodic loop serve starts.
var retentionSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "run one retention sweep pass and print what it removed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := common.NewConfigFromEnvironment()
		if err != nil {
			return misconfigured(err.Error())
		}
		store, err := statestore.Open(cfg.StateDir)
		if err != nil {
			return &cliError{ExitGeneric, err.Error()}
		}
		defer store.Close()

		sweeper := retention.NewSweeper(store, common.NopLogger, common.RealClock,
			cfg.OutputDir, cfg.InputDir, cfg.LogDir,
			time.Duration(cfg.RetentionDays)*24*time.Hour, cfg.UploadTTL, time.Duration(cfg.LogDays)*24*time.Hour)
		sweeper.RunOnce()

		for _, ev := range sweeper.AuditLog() {
			fmt.Printf("%-8s %-24s %-40s %s\n", ev.Kind, ev.ID, ev.Path, ev.Reason)
		}
		return nil
	},
}

func init() {
	retentionCmd.AddCommand(retentionSweepCmd)
}
