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

// Package media implements upload.MediaValidator by shelling out to ffprobe,
// the same arm's-length-process technique pipeline.ExternalCommand uses for
// the ASR/TTS pipeline itself. Grounded on the original system's
// _validate_media_or_400: container allowlist, duration bounds, and optional
// resolution caps, all read from one ffprobe invocation.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// allowedContainers mirrors the original's _ALLOWED_CONTAINER_TOKENS: the
// MP4/QuickTime and Matroska/WebM families ffprobe's format_name reports.
var allowedContainers = map[string]struct{}{
	"mov": {}, "mp4": {}, "m4a": {}, "3gp": {}, "3g2": {}, "mj2": {},
	"matroska": {}, "webm": {},
}

// FFProbeValidator runs ffprobe against a completed upload and rejects
// anything outside the configured container/duration/resolution bounds.
type FFProbeValidator struct {
	Command     string
	Timeout     time.Duration
	MaxDuration time.Duration
	MaxWidth    int64
	MaxHeight   int64
	MaxPixels   int64
}

// NewFFProbeValidator builds a validator from the same limits
// common.Config exposes, defaulting ffprobe's own wait to 20s, matching the
// original's ffprobe_media_info(path, timeout_s=20).
func NewFFProbeValidator(command string, maxVideoMinutes, maxWidth, maxHeight, maxPixels int64) *FFProbeValidator {
	if command == "" {
		command = "ffprobe"
	}
	return &FFProbeValidator{
		Command:     command,
		Timeout:     20 * time.Second,
		MaxDuration: time.Duration(maxVideoMinutes) * time.Minute,
		MaxWidth:    maxWidth,
		MaxHeight:   maxHeight,
		MaxPixels:   maxPixels,
	}
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	Width     int64  `json:"width"`
	Height    int64  `json:"height"`
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

// Validate implements upload.MediaValidator.
func (v *FFProbeValidator) Validate(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), v.Timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, v.Command,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	).Output()
	if err != nil {
		return fmt.Errorf("probe media: %w", err)
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return fmt.Errorf("parse ffprobe output: %w", err)
	}
	return v.evaluate(probe)
}

// evaluate applies the container/duration/resolution bounds to an already
// parsed ffprobe report. Split out from Validate so the decision logic can
// be exercised without an ffprobe binary on PATH.
func (v *FFProbeValidator) evaluate(probe probeOutput) error {
	tokens := strings.Split(strings.ToLower(strings.TrimSpace(probe.Format.FormatName)), ",")
	matched := false
	for _, t := range tokens {
		if _, ok := allowedContainers[strings.TrimSpace(t)]; ok {
			matched = true
			break
		}
	}
	if !matched {
		return fmt.Errorf("unsupported container %q", probe.Format.FormatName)
	}

	durSec, _ := strconv.ParseFloat(probe.Format.Duration, 64)
	if durSec <= 0.5 {
		return fmt.Errorf("video duration is too short or unreadable")
	}
	if v.MaxDuration > 0 && time.Duration(durSec*float64(time.Second)) > v.MaxDuration {
		return fmt.Errorf("video too long (> %s)", v.MaxDuration)
	}

	var width, height int64
	for _, s := range probe.Streams {
		if s.CodecType == "video" {
			width, height = s.Width, s.Height
			break
		}
	}
	if v.MaxWidth > 0 && width > v.MaxWidth {
		return fmt.Errorf("video width too large (> %dpx)", v.MaxWidth)
	}
	if v.MaxHeight > 0 && height > v.MaxHeight {
		return fmt.Errorf("video height too large (> %dpx)", v.MaxHeight)
	}
	if v.MaxPixels > 0 && width > 0 && height > 0 && width*height > v.MaxPixels {
		return fmt.Errorf("video resolution too large")
	}
	return nil
}
