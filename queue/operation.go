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

package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/practicum/timeclock/session"
)

// Kind tags the payload carried by an Operation
type Kind string

// Supported operation kinds
const (
	KindStart  Kind = "start"
	KindStop   Kind = "stop"
	KindResync Kind = "resync"
)

// Priority orders operations within the queue. Higher priority drains
// first; within a priority class order is FIFO.
type Priority string

// Priorities, highest first
const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank maps priority to drain order, lower drains first
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Status is the queue-side lifecycle of an operation
type Status string

// Operation statuses
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ResyncRequest asks for one drift-report exchange with the time server
type ResyncRequest struct {
	RequestedAt time.Time `json:"requested_at"`
}

// Operation is one queued unit of work. Exactly one payload field is set,
// matching Kind. The JSON form is a tagged union keyed by "kind" so
// snapshots survive restarts without per-kind files.
type Operation struct {
	ID         string
	Kind       Kind
	Start      *session.StartRequest
	Stop       *session.StopRequest
	Resync     *ResyncRequest
	EnqueuedAt time.Time
	NotBefore  time.Time
	Retries    int
	MaxRetries int
	Priority   Priority
	Status     Status
	LastError  string

	// payload bytes of a kind this build does not understand, kept
	// verbatim so a newer snapshot is not corrupted by an older binary
	rawPayload json.RawMessage
}

// NewStart builds a clock-in operation
func NewStart(req session.StartRequest, prio Priority) Operation {
	return Operation{ID: uuid.New().String(), Kind: KindStart, Start: &req, Priority: prio}
}

// NewStop builds a clock-out operation
func NewStop(req session.StopRequest, prio Priority) Operation {
	return Operation{ID: uuid.New().String(), Kind: KindStop, Stop: &req, Priority: prio}
}

// NewResync builds a drift-report operation
func NewResync(at time.Time) Operation {
	return Operation{ID: uuid.New().String(), Kind: KindResync, Resync: &ResyncRequest{RequestedAt: at}, Priority: PriorityLow}
}

// known reports whether this build can execute the operation's kind
func (o *Operation) known() bool {
	switch o.Kind {
	case KindStart, KindStop, KindResync:
		return true
	}
	return false
}

// envelope is the wire form of an Operation
type envelope struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	NotBefore  *time.Time      `json:"not_before,omitempty"`
	Retries    int             `json:"retries"`
	MaxRetries int             `json:"max_retries"`
	Priority   Priority        `json:"priority"`
	Status     Status          `json:"status"`
	LastError  string          `json:"last_error,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (o Operation) MarshalJSON() ([]byte, error) {
	env := envelope{
		ID:         o.ID,
		Kind:       o.Kind,
		EnqueuedAt: o.EnqueuedAt,
		Retries:    o.Retries,
		MaxRetries: o.MaxRetries,
		Priority:   o.Priority,
		Status:     o.Status,
		LastError:  o.LastError,
	}
	if !o.NotBefore.IsZero() {
		env.NotBefore = &o.NotBefore
	}
	var payload interface{}
	switch o.Kind {
	case KindStart:
		payload = o.Start
	case KindStop:
		payload = o.Stop
	case KindResync:
		payload = o.Resync
	default:
		env.Payload = o.rawPayload
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", o.Kind, err)
		}
		env.Payload = b
	}
	return json.Marshal(env)
}

// UnmarshalJSON implements json.Unmarshaler. An unknown kind is not an
// error; the payload is preserved and the loader marks the entry failed.
func (o *Operation) UnmarshalJSON(data []byte) error {
	env := envelope{}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*o = Operation{
		ID:         env.ID,
		Kind:       env.Kind,
		EnqueuedAt: env.EnqueuedAt,
		Retries:    env.Retries,
		MaxRetries: env.MaxRetries,
		Priority:   env.Priority,
		Status:     env.Status,
		LastError:  env.LastError,
	}
	if env.NotBefore != nil {
		o.NotBefore = *env.NotBefore
	}
	if len(env.Payload) == 0 {
		return nil
	}
	switch env.Kind {
	case KindStart:
		o.Start = &session.StartRequest{}
		if err := json.Unmarshal(env.Payload, o.Start); err != nil {
			return fmt.Errorf("decoding start payload: %w", err)
		}
	case KindStop:
		o.Stop = &session.StopRequest{}
		if err := json.Unmarshal(env.Payload, o.Stop); err != nil {
			return fmt.Errorf("decoding stop payload: %w", err)
		}
	case KindResync:
		o.Resync = &ResyncRequest{}
		if err := json.Unmarshal(env.Payload, o.Resync); err != nil {
			return fmt.Errorf("decoding resync payload: %w", err)
		}
	default:
		o.rawPayload = append(json.RawMessage(nil), env.Payload...)
	}
	return nil
}
