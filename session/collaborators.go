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
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

// GeofenceResult is the yes/no/warnings answer from the geofence service
type GeofenceResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

// GeofenceValidator checks physical presence near a site. Geometry is
// somebody else's problem; we only consume the verdict.
type GeofenceValidator interface {
	Validate(ctx context.Context, loc GeoPoint, siteID string) (GeofenceResult, error)
}

// SiteDirectory resolves site ids to site records
type SiteDirectory interface {
	LookupSite(ctx context.Context, id string) (Site, error)
}

// SiteCache is an LRU in front of a SiteDirectory. Site records are
// small and effectively immutable during a shift.
type SiteCache struct {
	dir   SiteDirectory
	cache *lru.Cache[string, Site]
}

// NewSiteCache creates a SiteCache holding up to size entries
func NewSiteCache(dir SiteDirectory, size int) (*SiteCache, error) {
	c, err := lru.New[string, Site](size)
	if err != nil {
		return nil, err
	}
	return &SiteCache{dir: dir, cache: c}, nil
}

// LookupSite returns the cached site or falls through to the directory
func (s *SiteCache) LookupSite(ctx context.Context, id string) (Site, error) {
	if site, found := s.cache.Get(id); found {
		return site, nil
	}
	site, err := s.dir.LookupSite(ctx, id)
	if err != nil {
		return Site{}, err
	}
	s.cache.Add(id, site)
	return site, nil
}

// AuditEvent is one entry for the audit trail
type AuditEvent struct {
	Action    string // "start", "stop"
	SubjectID string
	SessionID string
	SiteID    string
	At        time.Time
	Warnings  int
}

// AuditLogger records session events. Failures are logged and swallowed;
// the audit trail never fails a clock operation.
type AuditLogger interface {
	Record(ctx context.Context, event AuditEvent) error
}

// LogAuditLogger writes audit events to the process log
type LogAuditLogger struct{}

// Record implements AuditLogger
func (l *LogAuditLogger) Record(_ context.Context, event AuditEvent) error {
	log.WithFields(log.Fields{
		"action":   event.Action,
		"subject":  event.SubjectID,
		"session":  event.SessionID,
		"site":     event.SiteID,
		"at":       event.At.Format(time.RFC3339),
		"warnings": event.Warnings,
	}).Info("audit")
	return nil
}

// Store is the transactional session storage. Implementations must hold
// a per-subject row lock for the duration of CreateOpen/CloseOpen and
// back it with a uniqueness constraint on open sessions.
type Store interface {
	// CreateOpen inserts a new open session. Returns ErrDuplicateOpen
	// if the subject already has one.
	CreateOpen(ctx context.Context, s ClockSession) error
	// CloseOpen locks the subject's open session, applies mutate and
	// persists the result. Returns ErrNoOpenSession if there is none.
	CloseOpen(ctx context.Context, subjectID string, mutate func(s *ClockSession) error) (ClockSession, error)
	// FindOpen returns the subject's open session, or nil if none
	FindOpen(ctx context.Context, subjectID string) (*ClockSession, error)
}
