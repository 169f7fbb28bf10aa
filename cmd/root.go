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

// Package cmd is the dubqueue CLI, cobra-based exactly like the teacher's
// cmd/root.go: a package-level rootCmd, PersistentFlags shared across every
// subcommand, and one file per subcommand family (cmd/jobs*.go analog).
// Every subcommand but `serve` is a thin HTTP client against a running
// server (spec.md §6.1); `serve` is the one subcommand that boots the
// process in-place.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes per spec.md §6.2.
const (
	ExitSuccess         = 0
	ExitGeneric         = 1
	ExitMisconfigured   = 2
	ExitQuotaExceeded   = 3
	ExitDraining        = 4
)

var (
	apiAddr    string
	authToken  string
	outputJSON bool
)

var rootCmd = &cobra.Command{
	Use:           "dubqueue",
	Short:         "dubqueue is the dubbing pipeline job orchestrator",
	Long:          "dubqueue accepts uploads, queues dubbing jobs across local and distributed backends, and serves their status over HTTP.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code; main.go is
// expected to call os.Exit(cmd.Execute()) directly, mirroring the teacher's
// Execute(...) entrypoint shape in cmd/root.go.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		if ec, ok := err.(exitCoder); ok {
			fmt.Fprintln(os.Stderr, "dubqueue:", err)
			return ec.ExitCode()
		}
		fmt.Fprintln(os.Stderr, "dubqueue:", err)
		return ExitGeneric
	}
	return ExitSuccess
}

// exitCoder lets a subcommand's RunE return a specific exit code instead of
// the generic one, the way cliError below is constructed.
type exitCoder interface {
	error
	ExitCode() int
}

type cliError struct {
	code int
	msg  string
}

func (e *cliError) Error() string  { return e.msg }
func (e *cliError) ExitCode() int  { return e.code }

func misconfigured(msg string) error { return &cliError{ExitMisconfigured, msg} }
func quotaExceeded(msg string) error { return &cliError{ExitQuotaExceeded, msg} }
func draining(msg string) error      { return &cliError{ExitDraining, msg} }

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api-addr", envOr("DUBQUEUE_API_ADDR", "http://127.0.0.1:8080"), "base URL of a running dubqueue server")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("DUBQUEUE_TOKEN"), "bearer token or API key sent as Authorization")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print raw JSON instead of a formatted summary")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(retentionCmd)
	rootCmd.AddCommand(quotasCmd)
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
