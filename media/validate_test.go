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

package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateAcceptsAllowedContainerWithinBounds(t *testing.T) {
	v := NewFFProbeValidator("", 180, 0, 0, 0)
	err := v.evaluate(probeOutput{
		Format:  probeFormat{FormatName: "mov,mp4,m4a,3gp,3g2,mj2", Duration: "12.5"},
		Streams: []probeStream{{CodecType: "video", Width: 1920, Height: 1080}},
	})
	assert.NoError(t, err)
}

func TestEvaluateRejectsUnsupportedContainer(t *testing.T) {
	v := NewFFProbeValidator("", 180, 0, 0, 0)
	err := v.evaluate(probeOutput{Format: probeFormat{FormatName: "avi", Duration: "12.5"}})
	assert.Error(t, err)
}

func TestEvaluateRejectsUnreadableOrTooShortDuration(t *testing.T) {
	v := NewFFProbeValidator("", 180, 0, 0, 0)
	err := v.evaluate(probeOutput{Format: probeFormat{FormatName: "mp4", Duration: "0"}})
	assert.Error(t, err)
}

func TestEvaluateRejectsDurationOverMax(t *testing.T) {
	v := NewFFProbeValidator("", 1, 0, 0, 0)
	err := v.evaluate(probeOutput{Format: probeFormat{FormatName: "mp4", Duration: "120"}})
	assert.Error(t, err)
}

func TestEvaluateRejectsResolutionOverCaps(t *testing.T) {
	v := NewFFProbeValidator("", 180, 1280, 720, 0)
	err := v.evaluate(probeOutput{
		Format:  probeFormat{FormatName: "mp4", Duration: "5"},
		Streams: []probeStream{{CodecType: "video", Width: 3840, Height: 2160}},
	})
	assert.Error(t, err)
}

func TestEvaluateRejectsPixelCountOverCap(t *testing.T) {
	v := NewFFProbeValidator("", 180, 0, 0, 1000)
	err := v.evaluate(probeOutput{
		Format:  probeFormat{FormatName: "mp4", Duration: "5"},
		Streams: []probeStream{{CodecType: "video", Width: 100, Height: 100}},
	})
	assert.Error(t, err)
}

func TestNewFFProbeValidatorDefaultsCommandAndTimeout(t *testing.T) {
	v := NewFFProbeValidator("", 30, 0, 0, 0)
	assert.Equal(t, "ffprobe", v.Command)
	assert.Equal(t, 20*time.Second, v.Timeout)
}
