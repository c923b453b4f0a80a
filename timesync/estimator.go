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
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is the active transport of the protocol cascade
type State string

// Cascade states, best accuracy first
const (
	StateStreaming State = "STREAMING"
	StatePolling   State = "POLLING"
	StateSocket    State = "SOCKET"
	StateOffline   State = "OFFLINE"
)

// Tier is a coarse confidence classification of synchronized time
type Tier string

// Accuracy tiers
const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Trend values describe how drift develops across the sample window
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// Status is a snapshot of estimator health, recomputed on every sample
// and every transport transition
type Status struct {
	Connected bool
	State     State
	Tier      Tier
	Drift     time.Duration // smoothed offset
	Health    int           // 0-100
	Trend     string
	Retries   int
}

// Stats is the subset of counter operations the estimator reports to
type Stats interface {
	UpdateCounterBy(key string, count int64)
	SetCounter(key string, val int64)
}

// Estimator tracks the local to server clock offset. It never fails;
// degraded confidence is reported through Status instead.
type Estimator struct {
	sync.Mutex

	cfg   EstimatorConfig
	stats Stats

	win       *window
	smoothed  time.Duration
	driftRate float64 // offset slope, ns of drift per ns of local time
	lastRTT   time.Duration
	lastGood  time.Time
	offlineAt time.Time

	state   State
	tier    Tier
	trend   string
	health  int
	retries int

	timeNow func() time.Time
}

// NewEstimator creates an Estimator with the given filtering config
func NewEstimator(cfg EstimatorConfig, stats Stats) *Estimator {
	return &Estimator{
		cfg:     cfg,
		stats:   stats,
		win:     newWindow(cfg.WindowSize),
		state:   StateOffline,
		tier:    TierLow,
		trend:   TrendStable,
		timeNow: time.Now,
	}
}

// AddSample feeds one exchange into the estimator. Outliers are logged
// and dropped, accepted samples update the smoothed offset, accuracy
// tier, trend and health.
func (e *Estimator) AddSample(s Sample) {
	if !s.Complete() {
		log.Warningf("ignoring incomplete sample: %+v", s)
		return
	}
	offset := s.Offset()

	e.Lock()
	defer e.Unlock()

	if e.win.currentSize >= e.cfg.MinSamplesForOutlier {
		mean := e.win.mean()
		stddev := e.win.stddev()
		if stddev > 0 && math.Abs(float64(offset)-mean) > e.cfg.OutlierSigma*stddev {
			log.Warningf("rejecting outlier sample: offset %v deviates more than %.1f stddev (%v) from mean (%v)",
				offset, e.cfg.OutlierSigma, time.Duration(stddev), time.Duration(mean))
			e.count("timesync.samples.rejected", 1)
			return
		}
	}

	e.win.add(s.LocalRecv, float64(offset))
	e.smoothed = time.Duration(e.win.weightedMean())
	e.lastRTT = s.RTT()
	e.lastGood = s.LocalRecv
	e.updateDriftRate()
	e.recomputeLocked()
	e.count("timesync.samples.accepted", 1)
	log.Debugf("sample accepted: offset %v rtt %v smoothed %v tier %s", offset, s.RTT(), e.smoothed, e.tier)
}

// updateDriftRate estimates the slope of offset change over local time.
// Must hold the lock.
func (e *Estimator) updateDriftRate() {
	oldest, okOld := e.win.oldest()
	newest, okNew := e.win.newest()
	if !okOld || !okNew {
		return
	}
	dt := newest.at.Sub(oldest.at)
	if dt <= 0 {
		return
	}
	e.driftRate = (newest.offset - oldest.offset) / float64(dt)
}

// CurrentTime returns local time corrected by the smoothed offset.
// While offline it extrapolates using the drift rate observed before
// the connection was lost.
func (e *Estimator) CurrentTime() time.Time {
	e.Lock()
	defer e.Unlock()
	now := e.timeNow()
	corrected := now.Add(e.smoothed)
	if e.state == StateOffline && !e.lastGood.IsZero() {
		elapsed := now.Sub(e.lastGood)
		corrected = corrected.Add(time.Duration(e.driftRate * float64(elapsed)))
	}
	return corrected
}

// Status returns the current sync status snapshot
func (e *Estimator) Status() Status {
	e.Lock()
	defer e.Unlock()
	tier := e.tier
	if e.state == StateOffline && !e.offlineAt.IsZero() && e.timeNow().Sub(e.offlineAt) > e.cfg.OfflineGracePeriod {
		tier = TierLow
	}
	return Status{
		Connected: e.state != StateOffline,
		State:     e.state,
		Tier:      tier,
		Drift:     e.smoothed,
		Health:    e.health,
		Trend:     e.trend,
		Retries:   e.retries,
	}
}

// setState records a transport transition. Called by the cascade runner.
func (e *Estimator) setState(s State) {
	e.Lock()
	defer e.Unlock()
	if e.state == s {
		return
	}
	log.Infof("timesync transport: %s -> %s", e.state, s)
	e.state = s
	if s == StateOffline {
		e.offlineAt = e.timeNow()
	} else {
		e.offlineAt = time.Time{}
	}
	e.recomputeLocked()
	e.count("timesync.transitions."+string(s), 1)
}

// bumpRetries tracks cascade restarts while offline
func (e *Estimator) bumpRetries() {
	e.Lock()
	defer e.Unlock()
	e.retries++
	if e.stats != nil {
		e.stats.SetCounter("timesync.retries", int64(e.retries))
	}
}

func (e *Estimator) resetRetries() {
	e.Lock()
	defer e.Unlock()
	e.retries = 0
	if e.stats != nil {
		e.stats.SetCounter("timesync.retries", 0)
	}
}

// recomputeLocked reclassifies tier, trend and health. Must hold the lock.
func (e *Estimator) recomputeLocked() {
	drift := e.smoothed
	if drift < 0 {
		drift = -drift
	}

	switch {
	case e.win.currentSize == 0:
		e.tier = TierLow
	case drift < e.cfg.DriftHigh && e.lastRTT < e.cfg.RTTHigh:
		e.tier = TierHigh
	case drift < e.cfg.DriftMedium && e.lastRTT < e.cfg.RTTMedium:
		e.tier = TierMedium
	default:
		e.tier = TierLow
	}

	e.trend = TrendStable
	older, recent := e.win.halves()
	if len(older) > 0 && len(recent) > 0 {
		delta := statMean(recent) - statMean(older)
		if math.Abs(delta) > float64(e.cfg.TrendThreshold) {
			if delta > 0 {
				e.trend = TrendIncreasing
			} else {
				e.trend = TrendDecreasing
			}
		}
	}

	if e.win.currentSize == 0 {
		e.health = 0
	} else {
		penalty := 100
		if e.cfg.HealthDriftUnit > 0 {
			penalty = int(drift / e.cfg.HealthDriftUnit)
		}
		e.health = 100 - penalty
		if e.health < 0 {
			e.health = 0
		}
	}
}

func (e *Estimator) count(key string, val int64) {
	if e.stats != nil {
		e.stats.UpdateCounterBy(key, val)
	}
}
