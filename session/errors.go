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
	"errors"
	"fmt"
)

// Machine-readable conflict codes
const (
	CodeAlreadyActive   = "ALREADY_ACTIVE"
	CodeNoActiveSession = "NO_ACTIVE_SESSION"
	CodeGeofenceDenied  = "GEOFENCE_DENIED"
)

// Storage-level sentinels, translated to conflicts by the engine
var (
	// ErrDuplicateOpen means the subject already has an open session row
	ErrDuplicateOpen = errors.New("open session already exists for subject")
	// ErrNoOpenSession means there is no open session row to close
	ErrNoOpenSession = errors.New("no open session for subject")
)

// ConflictError is a deterministic business conflict. It is never
// retried and never trips the circuit breaker.
type ConflictError struct {
	Code    string
	Message string
}

// Error implements the error interface
func (c *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", c.Code, c.Message)
}

// IsConflict reports whether err is a ConflictError with the given code
func IsConflict(err error, code string) bool {
	var c *ConflictError
	if !errors.As(err, &c) {
		return false
	}
	return c.Code == code
}

// ValidationError captures field level validation issues that callers can
// surface to users. Always a hard failure.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %d field(s)", len(v.FieldErrors))
}

// HasErrors reports whether any field level issues were recorded
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}
