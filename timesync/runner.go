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

package timesync

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// errRestartCascade is a signal, not a failure: restart from streaming
var errRestartCascade = errors.New("restart cascade from best transport")

// Runner drives the transport cascade:
//
//	STREAMING -> (failure, after fallback delay) -> POLLING ->
//	(N consecutive failures) -> SOCKET -> (failure) -> OFFLINE ->
//	(periodic timer) -> STREAMING
//
// A connectivity-restored signal restarts at STREAMING from any state.
// Exactly one transport is active at a time; entering a new state always
// tears the previous transport and timers down first.
type Runner struct {
	cfg *Config
	est *Estimator

	streaming Transport
	polling   Transport
	socket    Transport

	online chan struct{}
}

// NewRunner creates a Runner feeding the given estimator
func NewRunner(cfg *Config, est *Estimator) *Runner {
	return &Runner{
		cfg:       cfg,
		est:       est,
		streaming: newStreamingTransport(cfg),
		polling:   newPollingTransport(cfg),
		socket:    newSocketTransport(cfg),
		online:    make(chan struct{}, 1),
	}
}

// Estimator returns the estimator the runner feeds
func (r *Runner) Estimator() *Estimator {
	return r.est
}

// NotifyOnline signals that connectivity was restored. The cascade
// restarts at the best transport rather than resuming mid-cascade.
func (r *Runner) NotifyOnline() {
	select {
	case r.online <- struct{}{}:
	default:
	}
}

// runTransport runs one transport, feeding its samples into the
// estimator, until the transport fails, connectivity-restored fires, or
// ctx is cancelled.
func (r *Runner) runTransport(ctx context.Context, t Transport) error {
	tctx, cancel := context.WithCancel(ctx)
	defer cancel()

	samples := make(chan Sample, 1)
	done := make(chan error, 1)
	go func() {
		done <- t.Run(tctx, samples)
	}()

	for {
		select {
		case s := <-samples:
			r.est.AddSample(s)
		case err := <-done:
			return err
		case <-r.online:
			cancel()
			<-done
			return errRestartCascade
		case <-ctx.Done():
			cancel()
			<-done
			return ctx.Err()
		}
	}
}

// wait sleeps for d but wakes early on connectivity-restored or cancellation
func (r *Runner) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.online:
		return errRestartCascade
	case <-timer.C:
		return nil
	}
}

// Run drives the cascade until ctx is cancelled. Transport errors never
// escape; they only cause state transitions.
func (r *Runner) Run(ctx context.Context) error {
	state := StateStreaming
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.est.setState(state)

		switch state {
		case StateStreaming:
			err := r.runTransport(ctx, r.streaming)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, errRestartCascade) {
				state = StateStreaming
				continue
			}
			log.Warningf("streaming transport failed: %v", err)
			werr := r.wait(ctx, r.cfg.FallbackDelay)
			switch {
			case errors.Is(werr, errRestartCascade):
				state = StateStreaming
			case werr != nil:
				return werr
			default:
				state = StatePolling
			}
		case StatePolling:
			err := r.runTransport(ctx, r.polling)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, errRestartCascade) {
				state = StateStreaming
				continue
			}
			log.Warningf("polling transport failed: %v", err)
			state = StateSocket
		case StateSocket:
			err := r.runTransport(ctx, r.socket)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, errRestartCascade) {
				state = StateStreaming
				continue
			}
			log.Warningf("socket transport failed: %v", err)
			state = StateOffline
		case StateOffline:
			r.est.bumpRetries()
			err := r.wait(ctx, r.cfg.OfflineRetry)
			if err != nil && !errors.Is(err, errRestartCascade) {
				return err
			}
			state = StateStreaming
			if errors.Is(err, errRestartCascade) {
				r.est.resetRetries()
			}
		}
	}
}
