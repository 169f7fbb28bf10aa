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

package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tommy2202/Dubbing-Pipeline-sub001/common"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/coordinator"
	"github.com/tommy2202/Dubbing-Pipeline-sub001/statestore"
)

// flakyCoordinator wraps the in-process reference Coordinator and lets a test
// toggle Ping failures on demand, to drive AutoQueue's health loop without a
// real networked coordinator.
type flakyCoordinator struct {
	coordinator.Coordinator
	down atomic.Bool
}

func (f *flakyCoordinator) Ping(ctx context.Context) error {
	if f.down.Load() {
		return errors.New("coordinator unreachable")
	}
	return f.Coordinator.Ping(ctx)
}

func newAutoQueue(t *testing.T) (*AutoQueue, *flakyCoordinator) {
	t.Helper()
	coord := &flakyCoordinator{Coordinator: coordinator.NewMemory()}
	dist := NewDistributedQueue(coord, "dq-auto", nil, common.RealClock, nil, "instance-a", DistributedQueueConfig{})
	store, err := statestore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	local := NewLocalQueue(store, nil, nil, nil)
	return NewAutoQueue(dist, local, nil), coord
}

func TestAutoQueueStartsOnDistributed(t *testing.T) {
	a, _ := newAutoQueue(t)
	st := a.Status(context.Background())
	assert.True(t, st.Healthy)
	assert.Equal(t, common.EQueueMode.Auto(), st.Mode)
}

func TestAutoQueueRunStopReturnsPromptly(t *testing.T) {
	a, _ := newAutoQueue(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestAutoQueueSwitchCountStartsAtZero(t *testing.T) {
	a, _ := newAutoQueue(t)
	assert.Equal(t, int64(0), a.SwitchCount())
}

func TestAutoQueueSubmitJobDelegatesToActiveBackend(t *testing.T) {
	a, _ := newAutoQueue(t)
	err := a.SubmitJob(context.Background(), SubmitMeta{JobID: "j1", UserID: "u1", Priority: 1, CreatedMs: 1})
	require.NoError(t, err)

	counts, err := a.GlobalCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Queued)
}
