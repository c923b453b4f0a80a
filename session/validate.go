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

package session

import (
	"fmt"
	"time"
)

// Timestamp accuracy classification
const (
	AccuracyHigh   = "high"
	AccuracyMedium = "medium"
	AccuracyLow    = "low"
)

// timestampCheck is the outcome of validating a client-supplied event time
type timestampCheck struct {
	eventTime  time.Time
	accuracy   string
	advisories []Advisory
}

// validateTimestamp decides which clock to trust for the event.
// Hard failures: event too far in the future or past, or drift beyond
// max_drift with require_sync on. Large but tolerable drift substitutes
// server time and records an advisory instead of trusting the client.
func (p Policy) validateTimestamp(serverNow time.Time, clientTS time.Time) (timestampCheck, error) {
	if clientTS.IsZero() {
		// nothing supplied, the server clock is the event time
		return timestampCheck{eventTime: serverNow, accuracy: AccuracyLow}, nil
	}

	drift := serverNow.Sub(clientTS)
	if drift < 0 {
		drift = -drift
	}

	if clientTS.After(serverNow.Add(p.MaxFuture)) {
		v := &ValidationError{}
		v.add("timestamp", fmt.Sprintf("event time %v is more than %v ahead of server time", clientTS, p.MaxFuture))
		return timestampCheck{}, v
	}
	if clientTS.Before(serverNow.Add(-p.MaxPast)) {
		v := &ValidationError{}
		v.add("timestamp", fmt.Sprintf("event time %v is more than %v behind server time", clientTS, p.MaxPast))
		return timestampCheck{}, v
	}
	if p.RequireSync && drift > p.MaxDrift {
		v := &ValidationError{}
		v.add("timestamp", fmt.Sprintf("clock drift %v exceeds maximum %v", drift, p.MaxDrift))
		return timestampCheck{}, v
	}

	check := timestampCheck{eventTime: clientTS}
	switch {
	case drift < p.DriftHigh:
		check.accuracy = AccuracyHigh
	case drift < p.DriftMedium:
		check.accuracy = AccuracyMedium
	default:
		check.accuracy = AccuracyLow
		// the client clock is too far gone to trust for the record
		check.eventTime = serverNow
		check.advisories = append(check.advisories, Advisory{
			Code:       AdvisoryDrift,
			Message:    fmt.Sprintf("client clock drift %v, server time substituted", drift.Round(time.Millisecond)),
			RecordedAt: serverNow,
		})
	}
	return check, nil
}

// validateLocation soft-checks the shape of a location snapshot.
// A missing location is fine; an implausible one earns an advisory.
func validateLocation(serverNow time.Time, loc *GeoPoint) []Advisory {
	if loc == nil {
		return nil
	}
	var advisories []Advisory
	if loc.Lat < -90 || loc.Lat > 90 || loc.Lon < -180 || loc.Lon > 180 {
		advisories = append(advisories, Advisory{
			Code:       AdvisoryLocation,
			Message:    fmt.Sprintf("implausible coordinates (%.4f, %.4f)", loc.Lat, loc.Lon),
			RecordedAt: serverNow,
		})
	}
	if loc.AccuracyM < 0 {
		advisories = append(advisories, Advisory{
			Code:       AdvisoryLocation,
			Message:    fmt.Sprintf("negative accuracy %.1fm", loc.AccuracyM),
			RecordedAt: serverNow,
		})
	}
	return advisories
}

// validateHours soft-checks the allowed clock-in window
func (p Policy) validateHours(eventTime time.Time) []Advisory {
	if p.BypassHours {
		return nil
	}
	h := eventTime.Hour()
	if h >= p.HoursStart && h < p.HoursEnd {
		return nil
	}
	return []Advisory{{
		Code:       AdvisoryAfterHours,
		Message:    fmt.Sprintf("event at %02d:%02d outside allowed window %02d:00-%02d:00", h, eventTime.Minute(), p.HoursStart, p.HoursEnd),
		RecordedAt: eventTime,
	}}
}
