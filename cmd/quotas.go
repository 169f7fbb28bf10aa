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
	"net/http"

	"github.com/spf13/cobra"
)

var quotasCmd = &cobra.Command{
	Use:   "quotas",
	Short: "administer per-user quota overrides",
}

var (
	quotaMaxRunning      int64
	quotaMaxQueued       int64
	quotaJobsPerDay      int64
	quotaMaxStorageBytes int64
)

var quotasSetCmd = &cobra.Command{
	Use:   "set <user-id>",
	Short: "upsert a per-user quota override",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]interface{}{}
		if cmd.Flags().Changed("max-running") {
			body["max_running"] = quotaMaxRunning
		}
		if cmd.Flags().Changed("max-queued") {
			body["max_queued"] = quotaMaxQueued
		}
		if cmd.Flags().Changed("jobs-per-day") {
			body["jobs_per_day"] = quotaJobsPerDay
		}
		if cmd.Flags().Changed("max-storage-bytes") {
			body["max_storage_bytes"] = quotaMaxStorageBytes
		}
		if len(body) == 0 {
			return misconfigured("at least one of --max-running, --max-queued, --jobs-per-day, --max-storage-bytes is required")
		}
		var out map[string]interface{}
		if err := request(http.MethodPost, "/api/admin/quotas/"+args[0], body, &out); err != nil {
			return err
		}
		if outputJSON {
			return printJSON(out)
		}
		fmt.Println("quota override updated for", args[0])
		return nil
	},
}

func init() {
	quotasSetCmd.Flags().Int64Var(&quotaMaxRunning, "max-running", 0, "max concurrent RUNNING jobs")
	quotasSetCmd.Flags().Int64Var(&quotaMaxQueued, "max-queued", 0, "max QUEUED jobs")
	quotasSetCmd.Flags().Int64Var(&quotaJobsPerDay, "jobs-per-day", 0, "max job submissions per day")
	quotasSetCmd.Flags().Int64Var(&quotaMaxStorageBytes, "max-storage-bytes", 0, "max total stored bytes")
	quotasCmd.AddCommand(quotasSetCmd)
}
