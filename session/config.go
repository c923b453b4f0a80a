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

import "time"

// Policy is the validation configuration shared by start and stop.
// Only identity checks and double-open prevention are hard by default;
// StrictMode additionally makes geofence and drift violations hard.
type Policy struct {
	DriftHigh   time.Duration `yaml:"drift_high"`   // timestamp drift below this is high accuracy
	DriftMedium time.Duration `yaml:"drift_medium"` // below this, medium; past it the server clock wins
	MaxDrift    time.Duration `yaml:"max_drift"`    // with require_sync, drift beyond this is a hard failure
	RequireSync bool          `yaml:"require_sync"`
	MaxFuture   time.Duration `yaml:"max_future"` // events further ahead of server time are rejected
	MaxPast     time.Duration `yaml:"max_past"`   // events further behind server time are rejected
	MinDuration time.Duration `yaml:"min_duration"`
	HoursStart  int           `yaml:"hours_start"` // allowed clock-in window, local hours [start, end)
	HoursEnd    int           `yaml:"hours_end"`
	BypassHours bool          `yaml:"bypass_hours"` // for test environments
	StrictMode  bool          `yaml:"strict_mode"`
}

// DefaultPolicy returns the validation policy used unless configured otherwise
func DefaultPolicy() Policy {
	return Policy{
		DriftHigh:   2500 * time.Millisecond,
		DriftMedium: 5 * time.Second,
		MaxDrift:    30 * time.Second,
		RequireSync: false,
		MaxFuture:   5 * time.Minute,
		MaxPast:     24 * time.Hour,
		MinDuration: 15 * time.Minute,
		HoursStart:  6,
		HoursEnd:    23,
		BypassHours: false,
		StrictMode:  false,
	}
}
