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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mkSample builds a sample whose derived offset is exactly offset
func mkSample(at time.Time, offset, rtt time.Duration) Sample {
	recv := at.Add(rtt)
	return Sample{
		LocalSent:  at,
		ServerTime: recv.Add(offset - rtt/2),
		LocalRecv:  recv,
	}
}

func TestSampleMath(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := mkSample(base, 40*time.Millisecond, 100*time.Millisecond)
	require.Equal(t, 100*time.Millisecond, s.RTT())
	require.Equal(t, 50*time.Millisecond, s.OneWayDelay())
	require.Equal(t, 40*time.Millisecond, s.Offset())
}

func TestEstimatorConvergesOnConstantOffset(t *testing.T) {
	e := NewEstimator(DefaultConfig().Estimator, nil)
	e.setState(StateStreaming)
	trueOffset := 42 * time.Millisecond
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		e.AddSample(mkSample(base.Add(time.Duration(i)*time.Second), trueOffset, 50*time.Millisecond))
	}
	st := e.Status()
	require.InDelta(t, float64(trueOffset), float64(st.Drift), float64(time.Millisecond))
	require.Equal(t, TierHigh, st.Tier)
	require.Equal(t, TrendStable, st.Trend)
	require.True(t, st.Connected)
}

func TestEstimatorRejectsOutlier(t *testing.T) {
	e := NewEstimator(DefaultConfig().Estimator, nil)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	// stable buffer with a little jitter so stddev is positive
	jitter := []time.Duration{0, time.Millisecond, -time.Millisecond, 2 * time.Millisecond, -2 * time.Millisecond, time.Millisecond}
	for i, j := range jitter {
		e.AddSample(mkSample(base.Add(time.Duration(i)*time.Second), 40*time.Millisecond+j, 50*time.Millisecond))
	}
	before := e.Status().Drift

	// a sample 10 seconds off must be rejected outright
	e.AddSample(mkSample(base.Add(10*time.Second), 10*time.Second, 50*time.Millisecond))

	after := e.Status().Drift
	require.InDelta(t, float64(before), float64(after), float64(500*time.Microsecond))
}

func TestEstimatorAccuracyTiers(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		rtt    time.Duration
		want   Tier
	}{
		{"high", 10 * time.Millisecond, 100 * time.Millisecond, TierHigh},
		{"medium drift", 80 * time.Millisecond, 100 * time.Millisecond, TierMedium},
		{"medium rtt", 10 * time.Millisecond, 300 * time.Millisecond, TierMedium},
		{"low", 200 * time.Millisecond, 800 * time.Millisecond, TierLow},
	}
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEstimator(DefaultConfig().Estimator, nil)
			for i := 0; i < 3; i++ {
				e.AddSample(mkSample(base.Add(time.Duration(i)*time.Second), tt.offset, tt.rtt))
			}
			require.Equal(t, tt.want, e.Status().Tier)
		})
	}
}

func TestEstimatorTrend(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("increasing", func(t *testing.T) {
		e := NewEstimator(DefaultConfig().Estimator, nil)
		for i := 0; i < 10; i++ {
			e.AddSample(mkSample(base.Add(time.Duration(i)*time.Second), time.Duration(i)*10*time.Millisecond, 50*time.Millisecond))
		}
		require.Equal(t, TrendIncreasing, e.Status().Trend)
	})

	t.Run("decreasing", func(t *testing.T) {
		e := NewEstimator(DefaultConfig().Estimator, nil)
		for i := 0; i < 10; i++ {
			e.AddSample(mkSample(base.Add(time.Duration(i)*time.Second), time.Duration(10-i)*10*time.Millisecond, 50*time.Millisecond))
		}
		require.Equal(t, TrendDecreasing, e.Status().Trend)
	})
}

func TestEstimatorHealthDropsWithDrift(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	healthAt := func(offset time.Duration) int {
		e := NewEstimator(DefaultConfig().Estimator, nil)
		for i := 0; i < 3; i++ {
			e.AddSample(mkSample(base.Add(time.Duration(i)*time.Second), offset, 50*time.Millisecond))
		}
		return e.Status().Health
	}
	small := healthAt(2 * time.Millisecond)
	big := healthAt(100 * time.Millisecond)
	huge := healthAt(10 * time.Second)
	require.Greater(t, small, big)
	require.Greater(t, big, huge)
	require.Equal(t, 0, huge)
	require.LessOrEqual(t, small, 100)
}

func TestEstimatorOfflineExtrapolation(t *testing.T) {
	e := NewEstimator(DefaultConfig().Estimator, nil)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	// offset grows 10ms per second before we go offline
	for i := 0; i < 10; i++ {
		e.AddSample(mkSample(base.Add(time.Duration(i)*time.Second), time.Duration(i)*10*time.Millisecond, 50*time.Millisecond))
	}
	e.setState(StateOffline)

	// a minute later the drift rate should still be applied
	now := base.Add(9*time.Second + time.Minute)
	e.timeNow = func() time.Time { return now }
	got := e.CurrentTime()

	extrapolated := got.Sub(now)
	smoothed := e.Status().Drift
	// extrapolation adds roughly driftRate * 60s = 600ms on top of smoothed
	require.InDelta(t, float64(smoothed+600*time.Millisecond), float64(extrapolated), float64(50*time.Millisecond))
}

func TestEstimatorOfflineGracePeriodDegradesTier(t *testing.T) {
	cfg := DefaultConfig().Estimator
	cfg.OfflineGracePeriod = time.Minute
	e := NewEstimator(cfg, nil)
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e.AddSample(mkSample(base.Add(time.Duration(i)*time.Second), 10*time.Millisecond, 50*time.Millisecond))
	}
	require.Equal(t, TierHigh, e.Status().Tier)

	offlineAt := time.Now()
	e.setState(StateOffline)
	e.timeNow = func() time.Time { return offlineAt.Add(2 * time.Minute) }
	st := e.Status()
	require.Equal(t, TierLow, st.Tier)
	require.False(t, st.Connected)
}

func TestEstimatorEmptyWindow(t *testing.T) {
	e := NewEstimator(DefaultConfig().Estimator, nil)
	st := e.Status()
	require.Equal(t, TierLow, st.Tier)
	require.Equal(t, 0, st.Health)
	require.Equal(t, time.Duration(0), st.Drift)
	// without samples CurrentTime is just local time
	now := time.Now()
	require.WithinDuration(t, now, e.CurrentTime(), 100*time.Millisecond)
}
