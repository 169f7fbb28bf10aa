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

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "inspect and administer the job queue",
}

var queueStatusLimit int

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the admin queue snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []map[string]interface{}
		if err := request(http.MethodGet, fmt.Sprintf("/api/admin/queue?limit=%d", queueStatusLimit), nil, &entries); err != nil {
			return err
		}
		if outputJSON {
			return printJSON(entries)
		}
		for _, e := range entries {
			fmt.Printf("%v\n", e)
		}
		return nil
	},
}

var queuePriorityCmd = &cobra.Command{
	Use:   "priority <job-id> <priority>",
	Short: "re-prioritize a pending job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var priority int
		if _, err := fmt.Sscanf(args[1], "%d", &priority); err != nil {
			return misconfigured("priority must be an integer")
		}
		body := map[string]int{"priority": priority}
		if err := request(http.MethodPost, "/api/admin/jobs/"+args[0]+"/priority", body, nil); err != nil {
			return err
		}
		fmt.Println("priority updated")
		return nil
	},
}

func init() {
	queueStatusCmd.Flags().IntVar(&queueStatusLimit, "limit", 50, "max snapshot entries to return")
	queueCmd.AddCommand(queueStatusCmd, queuePriorityCmd)
}
