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

func TestMarkRetryable(t *testing.T) {
	require.Nil(t, MarkRetryable(nil))
	err := errors.New("connection reset")
	require.False(t, IsRetryable(err))
	marked := MarkRetryable(err)
	require.True(t, IsRetryable(marked))
	require.True(t, errors.Is(marked, err))
}

func TestRetrierRetryableOnly(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxAttempts: 3, Delay: time.Millisecond, Mode: BackoffFixed})

	t.Run("terminal error surfaces immediately", func(t *testing.T) {
		calls := 0
		terminal := errors.New("ALREADY_ACTIVE")
		err := r.Do(context.Background(), func() error {
			calls++
			return terminal
		})
		require.Equal(t, terminal, err)
		require.Equal(t, 1, calls)
	})

	t.Run("retryable error retried up to cap", func(t *testing.T) {
		calls := 0
		err := r.Do(context.Background(), func() error {
			calls++
			return MarkRetryable(errors.New("timeout"))
		})
		require.Error(t, err)
		require.True(t, IsRetryable(err))
		require.Equal(t, 3, calls)
	})

	t.Run("recovers when a later attempt succeeds", func(t *testing.T) {
		calls := 0
		err := r.Do(context.Background(), func() error {
			calls++
			if calls < 3 {
				return MarkRetryable(errors.New("timeout"))
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
	})
}

func TestRetrierLinearBackoff(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxAttempts: 3, Delay: 10 * time.Millisecond, Mode: BackoffLinear})
	require.Equal(t, 10*time.Millisecond, r.delay(1))
	require.Equal(t, 20*time.Millisecond, r.delay(2))
}

func TestRetrierContextCancelled(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxAttempts: 5, Delay: time.Minute, Mode: BackoffFixed})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := r.Do(ctx, func() error {
		calls++
		return MarkRetryable(errors.New("timeout"))
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
