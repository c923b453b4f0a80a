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
	"sync"
)

// Policy composes a retrier with a circuit breaker. Retries happen inside
// the breaker so a run of failed attempts counts once against it.
type Policy struct {
	retrier *Retrier
	breaker *Breaker
}

// NewPolicy creates a Policy guarding the named dependency
func NewPolicy(name string, rcfg RetryConfig, bcfg BreakerConfig) *Policy {
	return &Policy{
		retrier: NewRetrier(rcfg),
		breaker: NewBreaker(name, bcfg),
	}
}

// Breaker exposes the underlying breaker, for monitoring
func (p *Policy) Breaker() *Breaker {
	return p.breaker
}

// Do runs fn through the breaker and retrier. Errors not marked retryable
// pass through untouched and do not count against the breaker.
func (p *Policy) Do(ctx context.Context, fn func() error) error {
	var terminal error
	err := p.breaker.Do(func() error {
		err := p.retrier.Do(ctx, fn)
		if err != nil && !IsRetryable(err) && ctx.Err() == nil {
			// deterministic outcome, not a dependency failure
			terminal = err
			return nil
		}
		return err
	})
	if terminal != nil {
		return terminal
	}
	return err
}

// Registry hands out one Policy per dependency name
type Registry struct {
	mux      sync.Mutex
	policies map[string]*Policy
	rcfg     RetryConfig
	bcfg     BreakerConfig
}

// NewRegistry creates a Registry with shared retry and breaker settings
func NewRegistry(rcfg RetryConfig, bcfg BreakerConfig) *Registry {
	return &Registry{
		policies: map[string]*Policy{},
		rcfg:     rcfg,
		bcfg:     bcfg,
	}
}

// Get returns the Policy for name, creating it on first use
func (r *Registry) Get(name string) *Policy {
	r.mux.Lock()
	defer r.mux.Unlock()
	p, found := r.policies[name]
	if !found {
		p = NewPolicy(name, r.rcfg, r.bcfg)
		r.policies[name] = p
	}
	return p
}
