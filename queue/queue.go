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

// Package queue buffers clock-in/clock-out/resync operations while the
// backend is unreachable and replays them once connectivity returns.
// The queue is bounded, priority-ordered and snapshotted to disk after
// every mutation so pending work survives restarts.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Conflict replay modes. Under "ignore" a deterministic conflict during
// replay (ALREADY_ACTIVE for a start, NO_ACTIVE_SESSION for a stop)
// counts as success: the original call won the race before its response
// was lost. Under "fail" such replays follow the normal retry path.
const (
	ConflictIgnore = "ignore"
	ConflictFail   = "fail"
)

// Errors returned by queue operations
var (
	// ErrQueueFull means the queue is at capacity and holds nothing evictable
	ErrQueueFull = errors.New("operation queue is full")
	// ErrNotFound means no operation with the given id is queued
	ErrNotFound = errors.New("operation not found")
)

// Config controls queue capacity, persistence and replay
type Config struct {
	MaxSize      int           `yaml:"maxsize"`
	MaxRetries   int           `yaml:"maxretries"`
	RetryDelay   time.Duration `yaml:"retrydelay"`
	Interval     time.Duration `yaml:"interval"`
	Path         string        `yaml:"path"`
	ConflictMode string        `yaml:"conflictmode"`
}

// DefaultConfig returns sane queue defaults
func DefaultConfig() *Config {
	return &Config{
		MaxSize:      100,
		MaxRetries:   3,
		RetryDelay:   30 * time.Second,
		Interval:     15 * time.Second,
		Path:         "timeclock-queue.json",
		ConflictMode: ConflictIgnore,
	}
}

// ReadConfig reads a Config from a YAML file
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing queue config %q: %w", path, err)
	}
	return c, nil
}

// snapshot is the on-disk form of the queue
type snapshot struct {
	SavedAt    time.Time   `json:"saved_at"`
	Operations []Operation `json:"operations"`
}

// Queue is a bounded, priority-ordered, durable operation buffer.
// The ops slice is kept sorted: high before medium before low, FIFO
// within a class. Safe for concurrent use.
type Queue struct {
	mu  sync.Mutex
	cfg Config
	ops []*Operation
}

// New creates a Queue and loads a previous snapshot from cfg.Path if
// one exists.
func New(cfg Config) (*Queue, error) {
	q := &Queue{cfg: cfg}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// Enqueue inserts op behind its priority class. When the queue is at
// capacity the oldest low-priority pending entry is evicted to make
// room; with nothing evictable ErrQueueFull is returned and nothing
// changes.
func (q *Queue) Enqueue(op Operation) error {
	if !op.known() {
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now()
	}
	if op.Priority == "" {
		op.Priority = PriorityMedium
	}
	if op.MaxRetries == 0 {
		op.MaxRetries = q.cfg.MaxRetries
	}
	op.Status = StatusPending

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cfg.MaxSize > 0 && len(q.ops) >= q.cfg.MaxSize {
		if !q.evictLocked() {
			return ErrQueueFull
		}
	}

	// insert before the first entry of a lower priority class; the scan
	// keeps FIFO order within the class
	pos := len(q.ops)
	for i, existing := range q.ops {
		if existing.Priority.rank() > op.Priority.rank() {
			pos = i
			break
		}
	}
	q.ops = append(q.ops, nil)
	copy(q.ops[pos+1:], q.ops[pos:])
	q.ops[pos] = &op

	log.Debugf("enqueued %s operation %s (priority %s, depth %d)", op.Kind, op.ID, op.Priority, len(q.ops))
	return q.persistLocked()
}

// evictLocked drops the oldest low-priority pending entry. Returns
// false when the queue holds nothing evictable.
func (q *Queue) evictLocked() bool {
	for i, op := range q.ops {
		if op.Priority == PriorityLow && op.Status == StatusPending {
			log.Warningf("queue full, evicting %s operation %s enqueued %s", op.Kind, op.ID, op.EnqueuedAt.Format(time.RFC3339))
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return true
		}
	}
	return false
}

// Dequeue removes the operation with the given id
func (q *Queue) Dequeue(id string) (Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, op := range q.ops {
		if op.ID == id {
			out := *op
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return out, q.persistLocked()
		}
	}
	return Operation{}, ErrNotFound
}

// List returns a copy of all queued operations in drain order
func (q *Queue) List() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Operation, 0, len(q.ops))
	for _, op := range q.ops {
		out = append(out, *op)
	}
	return out
}

// QueueStatus counts operations per lifecycle state
type QueueStatus struct {
	Pending    int
	Processing int
	Failed     int
	Total      int
}

// Status reports queue depth per state
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := QueueStatus{Total: len(q.ops)}
	for _, op := range q.ops {
		switch op.Status {
		case StatusPending:
			st.Pending++
		case StatusProcessing:
			st.Processing++
		case StatusFailed:
			st.Failed++
		}
	}
	return st
}

// Clear drops every queued operation
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = nil
	return q.persistLocked()
}

// claim returns a copy of the first runnable pending operation and
// marks it processing. Returns nil when nothing is runnable.
func (q *Queue) claim(now time.Time) (*Operation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, op := range q.ops {
		if op.Status != StatusPending {
			continue
		}
		if !op.NotBefore.IsZero() && now.Before(op.NotBefore) {
			continue
		}
		op.Status = StatusProcessing
		out := *op
		return &out, q.persistLocked()
	}
	return nil, nil
}

// complete removes a finished operation
func (q *Queue) complete(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, op := range q.ops {
		if op.ID == id {
			op.Status = StatusCompleted
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return q.persistLocked()
		}
	}
	return ErrNotFound
}

// release records a failed attempt: the operation goes back to pending
// with a retry delay, or is retained as failed once retries run out.
func (q *Queue) release(id string, cause error, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, op := range q.ops {
		if op.ID != id {
			continue
		}
		op.Retries++
		op.LastError = cause.Error()
		if op.Retries >= op.MaxRetries {
			op.Status = StatusFailed
			log.Warningf("%s operation %s failed after %d attempts: %v", op.Kind, op.ID, op.Retries, cause)
		} else {
			op.Status = StatusPending
			op.NotBefore = now.Add(q.cfg.RetryDelay)
		}
		return q.persistLocked()
	}
	return ErrNotFound
}

// requeue puts a claimed operation back to pending without charging a
// retry, used when a drain cycle is interrupted.
func (q *Queue) requeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, op := range q.ops {
		if op.ID == id {
			op.Status = StatusPending
			return q.persistLocked()
		}
	}
	return ErrNotFound
}

// persistLocked writes the whole queue atomically: temp file in the
// same directory, then rename. Callers hold q.mu.
func (q *Queue) persistLocked() error {
	if q.cfg.Path == "" {
		return nil
	}
	snap := snapshot{SavedAt: time.Now(), Operations: make([]Operation, 0, len(q.ops))}
	for _, op := range q.ops {
		snap.Operations = append(snap.Operations, *op)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding queue snapshot: %w", err)
	}
	dir := filepath.Dir(q.cfg.Path)
	tmp, err := os.CreateTemp(dir, ".queue-*.json")
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), q.cfg.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// load restores the previous snapshot. Operations left processing by a
// crash return to pending; unknown kinds are retained as failed so
// nothing silently disappears.
func (q *Queue) load() error {
	if q.cfg.Path == "" {
		return nil
	}
	data, err := os.ReadFile(q.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading queue snapshot %q: %w", q.cfg.Path, err)
	}
	snap := snapshot{}
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parsing queue snapshot %q: %w", q.cfg.Path, err)
	}
	q.ops = make([]*Operation, 0, len(snap.Operations))
	for i := range snap.Operations {
		op := snap.Operations[i]
		if !op.known() {
			log.Warningf("snapshot holds operation %s of unknown kind %q, keeping as failed", op.ID, op.Kind)
			op.Status = StatusFailed
		} else if op.Status == StatusProcessing || op.Status == StatusCompleted {
			op.Status = StatusPending
		}
		q.ops = append(q.ops, &op)
	}
	sort.SliceStable(q.ops, func(i, j int) bool {
		return q.ops[i].Priority.rank() < q.ops[j].Priority.rank()
	})
	log.Infof("restored %d queued operation(s) from %s", len(q.ops), q.cfg.Path)
	return nil
}
