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

// Package pipeline provides the one concrete executor.Pipeline this repo
// ships: it shells out to an external ASR/translation/TTS/mux command per
// job, the same arm's-length relationship main.go's teacher counterpart has
// with the out-of-process transfer engine (main.go's spawnSte/exec.Command).
// The actual model stages stay outside this process; this adapter only
// launches the configured command, forwards its stderr progress lines, and
// watches ctx for cancellation.
package pipeline

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"os/exec"
	"strconv"
	"strings"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/executor"
)

// ExternalCommand runs Command once per job, passing the job's identifying
// fields as flags and reading "progress <0..1> <message>" lines off stderr.
// Command is a template; {video_path}, {mode}, {device}, {job_id} are
// substituted per invocation.
type ExternalCommand struct {
	Command []string
	Log     common.ILogger
}

var _ executor.Pipeline = (*ExternalCommand)(nil)

func NewExternalCommand(command []string, log common.ILogger) *ExternalCommand {
	if log == nil {
		log = common.NopLogger
	}
	return &ExternalCommand{Command: command, Log: log}
}

func (p *ExternalCommand) args(job *common.Job) []string {
	repl := strings.NewReplacer(
		"{video_path}", job.VideoPath,
		"{mode}", job.Mode.String(),
		"{device}", job.Device.String(),
		"{job_id}", job.ID,
	)
	out := make([]string, len(p.Command))
	for i, a := range p.Command {
		out[i] = repl.Replace(a)
	}
	return out
}

// Run launches the configured command and blocks until it exits or ctx is
// canceled, in which case the child process is killed at the next
// convenient point (exec.CommandContext handles delivering the kill).
func (p *ExternalCommand) Run(ctx context.Context, job *common.Job, progress chan<- executor.ProgressEvent) error {
	if len(p.Command) == 0 {
		return common.NewAPIError(http.StatusInternalServerError, "internal_error", "pipeline: no command configured")
	}
	argv := p.args(job)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	go scanProgress(stderr, progress)

	return cmd.Wait()
}

// scanProgress reads "progress <fraction> <message...>" lines and forwards
// them; any other line is dropped. The scanner exits when stderr closes.
func scanProgress(r io.Reader, progress chan<- executor.ProgressEvent) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.SplitN(line, " ", 3)
		if len(fields) < 2 || fields[0] != "progress" {
			continue
		}
		frac, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		msg := ""
		if len(fields) == 3 {
			msg = fields[2]
		}
		progress <- executor.ProgressEvent{Progress: frac, Message: msg}
	}
}
