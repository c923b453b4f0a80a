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

package resilience

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// Supported backoff modes
const (
	BackoffFixed  = "fixed"
	BackoffLinear = "linear"
)

type retryable struct {
	err error
}

func (r *retryable) Error() string {
	return r.err.Error()
}

func (r *retryable) Unwrap() error {
	return r.err
}

// MarkRetryable wraps err so that Retrier will attempt it again.
// Deterministic failures (conflicts, validation) must never be marked.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryable{err: err}
}

// IsRetryable reports whether err was marked with MarkRetryable.
func IsRetryable(err error) bool {
	var r *retryable
	return errors.As(err, &r)
}

// RetryConfig describes a bounded retry policy
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	Mode        string        `yaml:"mode"` // see supported backoff modes const
}

// DefaultRetryConfig returns retry policy used unless configured otherwise
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Delay:       200 * time.Millisecond,
		Mode:        BackoffFixed,
	}
}

// Retrier re-runs a function on retryable errors with fixed or linear backoff.
// Errors not marked retryable surface immediately.
type Retrier struct {
	cfg RetryConfig
}

// NewRetrier creates Retrier with given config
func NewRetrier(cfg RetryConfig) *Retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Retrier{cfg: cfg}
}

func (r *Retrier) delay(attempt int) time.Duration {
	switch r.cfg.Mode {
	case BackoffLinear:
		return r.cfg.Delay * time.Duration(attempt)
	default:
		return r.cfg.Delay
	}
}

// Do runs fn up to MaxAttempts times. Only retryable errors are retried,
// and the error of the final attempt is returned as is.
func (r *Retrier) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}
		d := r.delay(attempt)
		log.Debugf("attempt %d/%d failed: %v, retrying in %v", attempt, r.cfg.MaxAttempts, err, d)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	return err
}
