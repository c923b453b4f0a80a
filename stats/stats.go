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

// Package stats holds the process-wide counter registry and its
// Prometheus exporter.
package stats

import (
	"sync"
)

// Counters is a mutex-guarded counter map shared by the estimator,
// engine and queue.
type Counters struct {
	mux      sync.Mutex
	counters map[string]int64
}

// NewCounters creates an empty counter registry
func NewCounters() *Counters {
	return &Counters{counters: map[string]int64{}}
}

// UpdateCounterBy will increment counter
func (s *Counters) UpdateCounterBy(key string, count int64) {
	s.mux.Lock()
	s.counters[key] += count
	s.mux.Unlock()
}

// SetCounter will set a counter to the provided value.
func (s *Counters) SetCounter(key string, val int64) {
	s.mux.Lock()
	s.counters[key] = val
	s.mux.Unlock()
}

// Get returns one counter value
func (s *Counters) Get(key string) int64 {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.counters[key]
}

// GetCounters returns a copy of all counters
func (s *Counters) GetCounters() map[string]int64 {
	ret := make(map[string]int64)
	s.mux.Lock()
	for key, val := range s.counters {
		ret[key] = val
	}
	s.mux.Unlock()
	return ret
}

// Copy all key-values into dst
func (s *Counters) Copy(dst *Counters) {
	s.mux.Lock()
	for k, v := range s.counters {
		dst.SetCounter(k, v)
	}
	s.mux.Unlock()
}

// Reset all the values of counters
func (s *Counters) Reset() {
	s.mux.Lock()
	for k := range s.counters {
		s.counters[k] = 0
	}
	s.mux.Unlock()
}
