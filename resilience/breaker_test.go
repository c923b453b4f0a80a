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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker(limit int) (*Breaker, *time.Time) {
	now := time.Now()
	b := NewBreaker("test-dep", BreakerConfig{
		FailureLimit: limit,
		Window:       30 * time.Second,
		Cooldown:     10 * time.Second,
	})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(3)
	for i := 0; i < 3; i++ {
		require.Equal(t, errBoom, b.Do(func() error { return errBoom }))
	}
	require.Equal(t, "open", b.State())

	err := b.Do(func() error {
		t.Fatal("call must be short-circuited")
		return nil
	})
	require.ErrorIs(t, err, ErrOpen)
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3)
	require.Error(t, b.Do(func() error { return errBoom }))
	require.Error(t, b.Do(func() error { return errBoom }))
	require.NoError(t, b.Do(func() error { return nil }))
	require.Error(t, b.Do(func() error { return errBoom }))
	require.Error(t, b.Do(func() error { return errBoom }))
	require.Equal(t, "closed", b.State())
}

func TestBreakerWindowExpiresFailures(t *testing.T) {
	b, now := newTestBreaker(2)
	require.Error(t, b.Do(func() error { return errBoom }))
	// next failure lands outside the window, starts a new run
	*now = now.Add(time.Minute)
	require.Error(t, b.Do(func() error { return errBoom }))
	require.Equal(t, "closed", b.State())
}

func TestBreakerHalfOpenCycle(t *testing.T) {
	b, now := newTestBreaker(1)
	require.Error(t, b.Do(func() error { return errBoom }))
	require.Equal(t, "open", b.State())

	t.Run("failed trial reopens", func(t *testing.T) {
		*now = now.Add(11 * time.Second)
		require.Equal(t, "half-open", b.State())
		require.Error(t, b.Do(func() error { return errBoom }))
		require.Equal(t, "open", b.State())
	})

	t.Run("successful trial closes", func(t *testing.T) {
		*now = now.Add(11 * time.Second)
		require.NoError(t, b.Do(func() error { return nil }))
		require.Equal(t, "closed", b.State())
	})
}

func TestPolicyConflictsBypassBreaker(t *testing.T) {
	p := NewPolicy("store", RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}, BreakerConfig{FailureLimit: 1, Window: time.Minute, Cooldown: time.Minute})
	conflict := errors.New("NO_ACTIVE_SESSION")
	for i := 0; i < 5; i++ {
		require.Equal(t, conflict, p.Do(context.Background(), func() error { return conflict }))
	}
	// deterministic conflicts never trip the breaker
	require.Equal(t, "closed", p.Breaker().State())
}

func TestPolicyRetriesThenTripsBreaker(t *testing.T) {
	p := NewPolicy("store", RetryConfig{MaxAttempts: 2, Delay: time.Millisecond}, BreakerConfig{FailureLimit: 1, Window: time.Minute, Cooldown: time.Minute})
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return MarkRetryable(errBoom)
	})
	require.Error(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, "open", p.Breaker().State())

	err = p.Do(context.Background(), func() error {
		t.Fatal("short-circuited call must not run")
		return nil
	})
	require.ErrorIs(t, err, ErrOpen)
}

func TestRegistryReusesPolicies(t *testing.T) {
	r := NewRegistry(DefaultRetryConfig(), DefaultBreakerConfig())
	require.Same(t, r.Get("geofence"), r.Get("geofence"))
	require.NotSame(t, r.Get("geofence"), r.Get("store"))
}
