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
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/practicum/timeclock/session"
	"github.com/practicum/timeclock/timesync"
)

// Connectivity answers whether the backend is reachable right now.
// The processor checks it between drain cycles, never mid-operation.
type Connectivity interface {
	Online() bool
}

// ConnectivityFunc adapts a func to the Connectivity interface
type ConnectivityFunc func() bool

// Online implements Connectivity
func (f ConnectivityFunc) Online() bool { return f() }

// Executor replays one queued operation against the live backend
type Executor interface {
	Execute(ctx context.Context, op Operation) error
}

// EngineExecutor replays operations through the same entry points the
// online path uses: the session engine for start/stop and the drift
// reporter for resync.
type EngineExecutor struct {
	Engine   *session.Engine
	Reporter *timesync.Reporter
}

// Execute implements Executor
func (x *EngineExecutor) Execute(ctx context.Context, op Operation) error {
	switch op.Kind {
	case KindStart:
		if op.Start == nil {
			return fmt.Errorf("start operation %s has no payload", op.ID)
		}
		_, err := x.Engine.Start(ctx, *op.Start)
		return err
	case KindStop:
		if op.Stop == nil {
			return fmt.Errorf("stop operation %s has no payload", op.ID)
		}
		_, err := x.Engine.Stop(ctx, *op.Stop)
		return err
	case KindResync:
		if x.Reporter == nil {
			return nil
		}
		return x.Reporter.Resync(ctx)
	}
	return fmt.Errorf("unknown operation kind %q", op.Kind)
}

// Processor drains the queue on a fixed interval while the backend is
// reachable.
type Processor struct {
	q            *Queue
	exec         Executor
	online       Connectivity
	interval     time.Duration
	conflictMode string

	timeNow func() time.Time
}

// NewProcessor creates a Processor over q
func NewProcessor(cfg *Config, q *Queue, exec Executor, online Connectivity) *Processor {
	return &Processor{
		q:            q,
		exec:         exec,
		online:       online,
		interval:     cfg.Interval,
		conflictMode: cfg.ConflictMode,
		timeNow:      time.Now,
	}
}

// Run drains the queue every interval until ctx is cancelled. A cycle
// is skipped entirely while offline; an in-flight replay is never
// interrupted by a connectivity flap.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if p.online != nil && !p.online.Online() {
			log.Debugf("backend offline, skipping queue drain (%d pending)", p.q.Status().Pending)
			continue
		}
		p.Drain(ctx)
	}
}

// Drain replays every runnable pending operation once, in priority
// order. Returns how many operations were completed.
func (p *Processor) Drain(ctx context.Context) int {
	done := 0
	for {
		if ctx.Err() != nil {
			return done
		}
		op, err := p.q.claim(p.timeNow())
		if err != nil {
			log.Errorf("claiming queued operation: %v", err)
			return done
		}
		if op == nil {
			return done
		}

		execErr := p.exec.Execute(ctx, *op)
		switch {
		case execErr == nil:
			if err := p.q.complete(op.ID); err != nil {
				log.Errorf("completing operation %s: %v", op.ID, err)
			}
			done++
		case ctx.Err() != nil:
			// interrupted, put it back without charging a retry
			if err := p.q.requeue(op.ID); err != nil {
				log.Errorf("requeueing operation %s: %v", op.ID, err)
			}
			return done
		case p.conflictMode != ConflictFail && replayConflict(op, execErr):
			// the original request won the race before its response
			// was lost; replaying it again is a no-op success
			log.Infof("%s operation %s already applied (%v), dropping", op.Kind, op.ID, execErr)
			if err := p.q.complete(op.ID); err != nil {
				log.Errorf("completing operation %s: %v", op.ID, err)
			}
			done++
		default:
			log.Warningf("replay of %s operation %s failed: %v", op.Kind, op.ID, execErr)
			if err := p.q.release(op.ID, execErr, p.timeNow()); err != nil {
				log.Errorf("releasing operation %s: %v", op.ID, err)
			}
		}
	}
}

// replayConflict reports whether err is the deterministic conflict a
// lost-response replay of op would produce.
func replayConflict(op *Operation, err error) bool {
	switch op.Kind {
	case KindStart:
		return session.IsConflict(err, session.CodeAlreadyActive)
	case KindStop:
		return session.IsConflict(err, session.CodeNoActiveSession)
	}
	return false
}
