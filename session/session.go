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

// Status of a recorded session
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusArchived = "archived"
)

// Advisory codes appended as notes when a soft policy check fails
const (
	AdvisoryDrift        = "ADVISORY_DRIFT"
	AdvisoryLocation     = "ADVISORY_LOCATION"
	AdvisoryAfterHours   = "ADVISORY_AFTER_HOURS"
	AdvisoryShortSession = "ADVISORY_SHORT_SESSION"
	AdvisoryGeofence     = "ADVISORY_GEOFENCE"
)

// GeoPoint is a geolocation snapshot captured with a start or stop event
type GeoPoint struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AccuracyM  float64   `json:"accuracy_m"`
	Source     string    `json:"source"`
	CapturedAt time.Time `json:"captured_at"`
}

// Advisory is a recorded soft policy violation. It routes the session to
// manual review but never blocks the operation.
type Advisory struct {
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ClockSession is one start/stop work record. Created by a start
// operation, mutated exactly once by the matching stop, never deleted.
// At most one session per subject may have a nil EndAt.
type ClockSession struct {
	ID            string
	SubjectID     string
	SiteID        string
	StartAt       time.Time
	EndAt         *time.Time // nil = open
	Status        string
	DurationHours float64
	StartLocation *GeoPoint
	EndLocation   *GeoPoint
	Notes         []Advisory // append-only
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Open reports whether the session has no matching stop yet
func (s *ClockSession) Open() bool {
	return s.EndAt == nil
}

// StartRequest asks to open a session for a subject at a site
type StartRequest struct {
	SubjectID       string    `json:"subject_id"`
	SiteID          string    `json:"site_id"`
	ClientTimestamp time.Time `json:"client_timestamp,omitempty"` // zero means "no explicit timestamp"
	Location        *GeoPoint `json:"location,omitempty"`
	Source          string    `json:"source,omitempty"`
}

// StopRequest asks to close the subject's open session
type StopRequest struct {
	SubjectID       string    `json:"subject_id"`
	ClientTimestamp time.Time `json:"client_timestamp,omitempty"`
	Location        *GeoPoint `json:"location,omitempty"`
	Source          string    `json:"source,omitempty"`
}

// StartResult is returned on successful clock-in. Warnings carry any
// advisory notes recorded along the way.
type StartResult struct {
	Session  ClockSession
	Warnings []Advisory
}

// StopResult is returned on successful clock-out
type StopResult struct {
	Session  ClockSession
	Warnings []Advisory
}

// StatusInfo is the read-only answer to "is this subject clocked in"
type StatusInfo struct {
	Open    bool
	SiteID  string
	StartAt time.Time
	Elapsed time.Duration
}

// Site is a known work location, resolved through the site directory
type Site struct {
	ID       string
	Name     string
	Timezone string
}
