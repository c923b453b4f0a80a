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
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/practicum/timeclock/resilience"
)

// TimeSource supplies drift-corrected server time
type TimeSource interface {
	CurrentTime() time.Time
}

// localTime falls back to the system clock when no estimator is wired
type localTime struct{}

func (localTime) CurrentTime() time.Time {
	return time.Now()
}

// Engine validates and atomically commits start/stop requests.
// All storage calls run through a retry policy and a circuit breaker;
// deterministic conflicts pass both untouched.
type Engine struct {
	store    Store
	policy   Policy
	clock    TimeSource
	sites    SiteDirectory
	geofence GeofenceValidator
	audit    AuditLogger
	policies *resilience.Registry
}

// EngineOpt customizes an Engine
type EngineOpt func(*Engine)

// WithTimeSource wires the drift estimator as the engine clock
func WithTimeSource(ts TimeSource) EngineOpt {
	return func(e *Engine) { e.clock = ts }
}

// WithSites wires a site directory (usually behind a SiteCache)
func WithSites(dir SiteDirectory) EngineOpt {
	return func(e *Engine) { e.sites = dir }
}

// WithGeofence wires the geofence collaborator
func WithGeofence(g GeofenceValidator) EngineOpt {
	return func(e *Engine) { e.geofence = g }
}

// WithAudit wires the audit trail writer
func WithAudit(a AuditLogger) EngineOpt {
	return func(e *Engine) { e.audit = a }
}

// WithResilience overrides the default retry/breaker settings
func WithResilience(r *resilience.Registry) EngineOpt {
	return func(e *Engine) { e.policies = r }
}

// NewEngine creates an Engine over the given store
func NewEngine(store Store, policy Policy, opts ...EngineOpt) *Engine {
	e := &Engine{
		store:    store,
		policy:   policy,
		clock:    localTime{},
		audit:    &LogAuditLogger{},
		policies: resilience.NewRegistry(resilience.DefaultRetryConfig(), resilience.DefaultBreakerConfig()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// checkGeofence consults the geofence collaborator. Soft by default:
// negative verdicts become advisories. Under strict mode a negative
// verdict is a hard conflict. Collaborator infrastructure failures are
// logged and treated as an advisory, never as a denial.
func (e *Engine) checkGeofence(ctx context.Context, loc *GeoPoint, siteID string, now time.Time) ([]Advisory, error) {
	if e.geofence == nil || loc == nil {
		return nil, nil
	}
	var result GeofenceResult
	err := e.policies.Get("geofence").Do(ctx, func() error {
		var verr error
		result, verr = e.geofence.Validate(ctx, *loc, siteID)
		return verr
	})
	if err != nil {
		log.Warningf("geofence check unavailable for site %s: %v", siteID, err)
		return []Advisory{{
			Code:       AdvisoryGeofence,
			Message:    "geofence check unavailable",
			RecordedAt: now,
		}}, nil
	}
	if result.Valid && len(result.Errors) == 0 && len(result.Warnings) == 0 {
		return nil, nil
	}
	if !result.Valid && e.policy.StrictMode {
		return nil, &ConflictError{
			Code:    CodeGeofenceDenied,
			Message: "location outside site geofence: " + strings.Join(result.Errors, "; "),
		}
	}
	var advisories []Advisory
	for _, msg := range append(result.Errors, result.Warnings...) {
		advisories = append(advisories, Advisory{
			Code:       AdvisoryGeofence,
			Message:    msg,
			RecordedAt: now,
		})
	}
	if !result.Valid && len(advisories) == 0 {
		advisories = append(advisories, Advisory{
			Code:       AdvisoryGeofence,
			Message:    "location outside site geofence",
			RecordedAt: now,
		})
	}
	return advisories, nil
}

// Start records a clock-in. Hard failures: missing identifiers, unknown
// site, timestamp out of tolerance, and an existing open session
// (ALREADY_ACTIVE). Everything else degrades to advisory notes.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	v := &ValidationError{}
	if strings.TrimSpace(req.SubjectID) == "" {
		v.add("subject_id", "required")
	}
	if strings.TrimSpace(req.SiteID) == "" {
		v.add("site_id", "required")
	}
	if v.HasErrors() {
		return nil, v
	}

	if e.sites != nil {
		if _, err := e.sites.LookupSite(ctx, req.SiteID); err != nil {
			v.add("site_id", "unknown site: "+err.Error())
			return nil, v
		}
	}

	serverNow := e.clock.CurrentTime()
	check, err := e.policy.validateTimestamp(serverNow, req.ClientTimestamp)
	if err != nil {
		return nil, err
	}
	advisories := check.advisories
	advisories = append(advisories, validateLocation(serverNow, req.Location)...)
	advisories = append(advisories, e.policy.validateHours(check.eventTime)...)

	geoAdvisories, err := e.checkGeofence(ctx, req.Location, req.SiteID, serverNow)
	if err != nil {
		return nil, err
	}
	advisories = append(advisories, geoAdvisories...)

	s := ClockSession{
		ID:            uuid.New().String(),
		SubjectID:     req.SubjectID,
		SiteID:        req.SiteID,
		StartAt:       check.eventTime,
		Status:        StatusPending,
		StartLocation: req.Location,
		Notes:         advisories,
	}

	err = e.policies.Get("session-store").Do(ctx, func() error {
		return e.store.CreateOpen(ctx, s)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateOpen) {
			return nil, &ConflictError{Code: CodeAlreadyActive, Message: "subject already has an open session"}
		}
		return nil, err
	}

	if aerr := e.audit.Record(ctx, AuditEvent{
		Action:    "start",
		SubjectID: s.SubjectID,
		SessionID: s.ID,
		SiteID:    s.SiteID,
		At:        s.StartAt,
		Warnings:  len(advisories),
	}); aerr != nil {
		log.Warningf("audit write failed for session %s: %v", s.ID, aerr)
	}

	return &StartResult{Session: s, Warnings: advisories}, nil
}

// Stop records a clock-out. NO_ACTIVE_SESSION if nothing is open.
// A session shorter than the minimum duration is flagged, not blocked.
func (e *Engine) Stop(ctx context.Context, req StopRequest) (*StopResult, error) {
	v := &ValidationError{}
	if strings.TrimSpace(req.SubjectID) == "" {
		v.add("subject_id", "required")
	}
	if v.HasErrors() {
		return nil, v
	}

	serverNow := e.clock.CurrentTime()
	check, err := e.policy.validateTimestamp(serverNow, req.ClientTimestamp)
	if err != nil {
		return nil, err
	}
	advisories := check.advisories
	advisories = append(advisories, validateLocation(serverNow, req.Location)...)

	var warnings []Advisory
	var closed ClockSession
	err = e.policies.Get("session-store").Do(ctx, func() error {
		var serr error
		closed, serr = e.store.CloseOpen(ctx, req.SubjectID, func(s *ClockSession) error {
			endAt := check.eventTime
			if endAt.Before(s.StartAt) {
				ve := &ValidationError{}
				ve.add("timestamp", "stop time precedes session start")
				return ve
			}
			duration := endAt.Sub(s.StartAt)
			all := advisories
			if duration < e.policy.MinDuration {
				all = append(all, Advisory{
					Code:       AdvisoryShortSession,
					Message:    "session shorter than minimum duration " + e.policy.MinDuration.String(),
					RecordedAt: serverNow,
				})
			}
			s.EndAt = &endAt
			s.DurationHours = duration.Hours()
			s.EndLocation = req.Location
			s.Notes = append(s.Notes, all...)
			if len(s.Notes) == 0 {
				s.Status = StatusApproved
			} else {
				s.Status = StatusPending
			}
			warnings = all
			return nil
		})
		return serr
	})
	if err != nil {
		if errors.Is(err, ErrNoOpenSession) {
			return nil, &ConflictError{Code: CodeNoActiveSession, Message: "subject has no open session"}
		}
		return nil, err
	}

	if aerr := e.audit.Record(ctx, AuditEvent{
		Action:    "stop",
		SubjectID: closed.SubjectID,
		SessionID: closed.ID,
		SiteID:    closed.SiteID,
		At:        *closed.EndAt,
		Warnings:  len(warnings),
	}); aerr != nil {
		log.Warningf("audit write failed for session %s: %v", closed.ID, aerr)
	}

	return &StopResult{Session: closed, Warnings: warnings}, nil
}

// Status answers whether the subject is clocked in. Read-only, tolerates
// staleness, never mutates.
func (e *Engine) Status(ctx context.Context, subjectID string) (*StatusInfo, error) {
	if strings.TrimSpace(subjectID) == "" {
		v := &ValidationError{}
		v.add("subject_id", "required")
		return nil, v
	}
	open, err := e.store.FindOpen(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if open == nil {
		return &StatusInfo{Open: false}, nil
	}
	return &StatusInfo{
		Open:    true,
		SiteID:  open.SiteID,
		StartAt: open.StartAt,
		Elapsed: e.clock.CurrentTime().Sub(open.StartAt),
	}, nil
}
