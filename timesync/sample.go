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

import "time"

// Sample is a single exchange with a time source.
// LocalSent is when the request left us, ServerTime is the reported
// server clock reading, LocalRecv is when the response arrived.
type Sample struct {
	LocalSent  time.Time
	ServerTime time.Time
	LocalRecv  time.Time
}

// RTT returns the round trip time of the exchange
func (s Sample) RTT() time.Duration {
	return s.LocalRecv.Sub(s.LocalSent)
}

// OneWayDelay estimates the server-to-client leg as half the round trip
func (s Sample) OneWayDelay() time.Duration {
	return s.RTT() / 2
}

// Offset returns the estimated local clock correction.
// estimatedServerTime = ServerTime + one-way delay, as the reported
// reading is already one leg old when it reaches us.
func (s Sample) Offset() time.Duration {
	estimated := s.ServerTime.Add(s.OneWayDelay())
	return estimated.Sub(s.LocalRecv)
}

// Complete reports whether all three timestamps are present
func (s Sample) Complete() bool {
	return !s.LocalSent.IsZero() && !s.ServerTime.IsZero() && !s.LocalRecv.IsZero()
}
