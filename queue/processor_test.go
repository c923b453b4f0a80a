/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/practicum/timeclock/session"
)

// fakeExecutor records replay order and returns scripted errors per id
type fakeExecutor struct {
	mu    sync.Mutex
	order []string
	errs  map[string]error
}

func (f *fakeExecutor) Execute(_ context.Context, op Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, op.ID)
	return f.errs[op.ID]
}

func (f *fakeExecutor) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func newTestProcessor(t *testing.T, cfg Config, exec Executor, online bool) (*Processor, *Queue) {
	t.Helper()
	q, err := New(cfg)
	require.NoError(t, err)
	p := NewProcessor(&cfg, q, exec, ConnectivityFunc(func() bool { return online }))
	return p, q
}

func TestDrainReplaysInPriorityOrder(t *testing.T) {
	cfg := testConfig(t)
	exec := &fakeExecutor{errs: map[string]error{}}
	p, q := newTestProcessor(t, cfg, exec, true)

	resync := NewResync(time.Now())
	start := startOp("trainee-1", PriorityHigh)
	stop := NewStop(session.StopRequest{SubjectID: "trainee-2"}, PriorityMedium)
	require.NoError(t, q.Enqueue(resync))
	require.NoError(t, q.Enqueue(stop))
	require.NoError(t, q.Enqueue(start))

	done := p.Drain(context.Background())
	require.Equal(t, 3, done)
	require.Equal(t, []string{start.ID, stop.ID, resync.ID}, exec.executed())
	require.Equal(t, 0, q.Status().Total)
}

func TestDrainTreatsReplayConflictAsSuccess(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		code string
	}{
		{"start already applied", startOp("trainee-1", PriorityHigh), session.CodeAlreadyActive},
		{"stop already applied", NewStop(session.StopRequest{SubjectID: "trainee-1"}, PriorityHigh), session.CodeNoActiveSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			exec := &fakeExecutor{errs: map[string]error{
				tt.op.ID: &session.ConflictError{Code: tt.code, Message: "already applied"},
			}}
			p, q := newTestProcessor(t, cfg, exec, true)
			require.NoError(t, q.Enqueue(tt.op))

			done := p.Drain(context.Background())
			require.Equal(t, 1, done)
			require.Equal(t, 0, q.Status().Total)
		})
	}
}

func TestDrainConflictFailModeRetries(t *testing.T) {
	cfg := testConfig(t)
	cfg.ConflictMode = ConflictFail
	op := startOp("trainee-1", PriorityHigh)
	exec := &fakeExecutor{errs: map[string]error{
		op.ID: &session.ConflictError{Code: session.CodeAlreadyActive, Message: "already applied"},
	}}
	p, q := newTestProcessor(t, cfg, exec, true)
	require.NoError(t, q.Enqueue(op))

	done := p.Drain(context.Background())
	require.Equal(t, 0, done)
	// the conflict followed the normal failure path instead
	require.Equal(t, 1, q.Status().Pending)
	require.Equal(t, 1, q.List()[0].Retries)
}

// the wrong conflict for the kind is a real failure, not a lost response
func TestDrainMismatchedConflictIsFailure(t *testing.T) {
	cfg := testConfig(t)
	op := startOp("trainee-1", PriorityHigh)
	exec := &fakeExecutor{errs: map[string]error{
		op.ID: &session.ConflictError{Code: session.CodeNoActiveSession, Message: "nothing open"},
	}}
	p, q := newTestProcessor(t, cfg, exec, true)
	require.NoError(t, q.Enqueue(op))

	done := p.Drain(context.Background())
	require.Equal(t, 0, done)
	require.Equal(t, 1, q.Status().Pending)
}

func TestDrainFailureRetriesThenRetains(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRetries = 2
	cfg.RetryDelay = 0
	op := startOp("trainee-1", PriorityHigh)
	boom := errors.New("backend timeout")
	exec := &fakeExecutor{errs: map[string]error{op.ID: boom}}
	p, q := newTestProcessor(t, cfg, exec, true)
	require.NoError(t, q.Enqueue(op))

	done := p.Drain(context.Background())
	require.Equal(t, 0, done)
	require.Len(t, exec.executed(), 2)

	st := q.Status()
	require.Equal(t, 1, st.Failed)
	require.Equal(t, 1, st.Total)
	require.Equal(t, boom.Error(), q.List()[0].LastError)
}

func TestDrainHonorsRetryDelay(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRetries = 3
	cfg.RetryDelay = time.Minute
	op := startOp("trainee-1", PriorityHigh)
	exec := &fakeExecutor{errs: map[string]error{op.ID: errors.New("backend timeout")}}
	p, q := newTestProcessor(t, cfg, exec, true)
	require.NoError(t, q.Enqueue(op))

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p.timeNow = func() time.Time { return now }

	// one attempt per drain: the retry delay blocks the second attempt
	require.Equal(t, 0, p.Drain(context.Background()))
	require.Len(t, exec.executed(), 1)
	require.Equal(t, 0, p.Drain(context.Background()))
	require.Len(t, exec.executed(), 1)

	now = now.Add(cfg.RetryDelay)
	require.Equal(t, 0, p.Drain(context.Background()))
	require.Len(t, exec.executed(), 2)
}

func TestRunSkipsCyclesWhileOffline(t *testing.T) {
	cfg := testConfig(t)
	cfg.Interval = 5 * time.Millisecond
	var online atomic.Bool
	exec := &fakeExecutor{errs: map[string]error{}}
	q, err := New(cfg)
	require.NoError(t, err)
	p := NewProcessor(&cfg, q, exec, ConnectivityFunc(online.Load))

	op := startOp("trainee-1", PriorityHigh)
	require.NoError(t, q.Enqueue(op))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	// offline: nothing drains
	time.Sleep(30 * time.Millisecond)
	require.Empty(t, exec.executed())
	require.Equal(t, 1, q.Status().Pending)

	// connectivity returns: the next cycle drains the queue
	online.Store(true)
	require.Eventually(t, func() bool {
		return q.Status().Total == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}
