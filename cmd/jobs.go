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
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "inspect and control jobs",
}

var jobsListState string
var jobsListLimit int

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "list jobs visible to the caller",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/api/jobs?limit=%d", jobsListLimit)
		if jobsListState != "" {
			path += "&state=" + jobsListState
		}
		var jobs []*common.Job
		if err := request(http.MethodGet, path, nil, &jobs); err != nil {
			return err
		}
		if outputJSON {
			return printJSON(jobs)
		}
		for _, j := range jobs {
			fmt.Printf("%-24s %-10s %-6s %5.1f%%  %s\n", j.ID, j.State.String(), j.Mode.String(), j.Progress*100, j.VideoPath)
		}
		return nil
	},
}

var jobsWatch bool

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "show one job, optionally streaming its progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if jobsWatch {
			return watchJob(args[0])
		}
		var job common.Job
		if err := request(http.MethodGet, "/api/jobs/"+args[0], nil, &job); err != nil {
			return err
		}
		if outputJSON {
			return printJSON(job)
		}
		fmt.Printf("id:       %s\nstate:    %s\nmode:     %s\ndevice:   %s\nprogress: %.1f%%\nmessage:  %s\n",
			job.ID, job.State.String(), job.Mode.String(), job.Device.String(), job.Progress*100, job.Message)
		return nil
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "request cancellation of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var job common.Job
		if err := request(http.MethodPost, "/api/jobs/"+args[0]+"/cancel", nil, &job); err != nil {
			return err
		}
		fmt.Println("cancel requested:", job.ID, job.State.String())
		return nil
	},
}

// watchJob subscribes to /events/jobs/{id}, the same SSE stream the HTTP
// API's jobsEvents handler emits, and prints each frame until the job
// reaches a terminal state or the connection closes.
func watchJob(jobID string) error {
	req, err := http.NewRequest(http.MethodGet, apiAddr+"/events/jobs/"+jobID, nil)
	if err != nil {
		return misconfigured(err.Error())
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	resp, err := (&http.Client{Timeout: 0}).Do(req)
	if err != nil {
		return &cliError{ExitGeneric, err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &cliError{ExitGeneric, fmt.Sprintf("watch failed: status %d", resp.StatusCode)}
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var job common.Job
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &job); err != nil {
			continue
		}
		fmt.Printf("[%s] %-10s %5.1f%%  %s\n", time.Now().Format(time.RFC3339), job.State.String(), job.Progress*100, job.Message)
		if job.State.IsTerminal() {
			return nil
		}
	}
	return sc.Err()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsListState, "state", "", "filter by job state")
	jobsListCmd.Flags().IntVar(&jobsListLimit, "limit", 100, "max jobs to return")
	jobsShowCmd.Flags().BoolVar(&jobsWatch, "watch", false, "stream progress via SSE until the job finishes")

	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsCancelCmd)
}
