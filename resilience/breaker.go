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
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrOpen is returned when the breaker short-circuits a call during cooldown
var ErrOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig describes circuit breaker behaviour
type BreakerConfig struct {
	FailureLimit int           `yaml:"failure_limit"` // consecutive failures before opening
	Window       time.Duration `yaml:"window"`        // failures older than this don't count as consecutive
	Cooldown     time.Duration `yaml:"cooldown"`      // how long to short-circuit before the half-open trial
}

// DefaultBreakerConfig returns breaker settings used unless configured otherwise
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureLimit: 5,
		Window:       30 * time.Second,
		Cooldown:     10 * time.Second,
	}
}

// Breaker is a circuit breaker keyed to a single downstream dependency.
// It opens after FailureLimit consecutive failures within Window, rejects
// calls during Cooldown, and allows one half-open trial before closing.
type Breaker struct {
	sync.Mutex
	name        string
	cfg         BreakerConfig
	state       breakerState
	failures    int
	lastFailure time.Time
	openedAt    time.Time
	now         func() time.Time
}

// NewBreaker creates a Breaker for the named dependency
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureLimit < 1 {
		cfg.FailureLimit = 1
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Name returns the dependency this breaker guards
func (b *Breaker) Name() string {
	return b.name
}

// State returns a human readable state, for monitoring
func (b *Breaker) State() string {
	b.Lock()
	defer b.Unlock()
	return b.currentState().String()
}

// currentState folds cooldown expiry into the state. Must hold the lock.
func (b *Breaker) currentState() breakerState {
	if b.state == stateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = stateHalfOpen
	}
	return b.state
}

// Do executes fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	b.Lock()
	switch b.currentState() {
	case stateOpen:
		b.Unlock()
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	case stateHalfOpen:
		// single trial call, keep others out until it resolves
		b.state = stateOpen
		b.openedAt = b.now()
		b.Unlock()
		err := fn()
		b.Lock()
		if err != nil {
			b.openedAt = b.now()
			b.Unlock()
			log.Warningf("breaker %q: half-open trial failed: %v", b.name, err)
			return err
		}
		b.reset()
		b.Unlock()
		log.Infof("breaker %q: closed after successful trial", b.name)
		return nil
	}
	b.Unlock()

	err := fn()

	b.Lock()
	defer b.Unlock()
	if err == nil {
		b.reset()
		return nil
	}
	now := b.now()
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.cfg.Window {
		b.failures = 0
	}
	b.failures++
	b.lastFailure = now
	if b.failures >= b.cfg.FailureLimit {
		b.state = stateOpen
		b.openedAt = now
		log.Warningf("breaker %q: opened after %d consecutive failures", b.name, b.failures)
	}
	return err
}

// reset must be called with the lock held
func (b *Breaker) reset() {
	b.state = stateClosed
	b.failures = 0
	b.lastFailure = time.Time{}
}
