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

import (
	"context"
	"time"
)

// timeRequest is what every transport sends to ask for a server reading
type timeRequest struct {
	ClientTimeNS int64 `json:"client_time_ns"`
}

// timeFrame is a single server clock reading. Polling responses may carry
// a suggested interval until the next poll.
type timeFrame struct {
	ServerTimeNS int64 `json:"server_time_ns"`
	NextPollMS   int64 `json:"next_poll_ms,omitempty"`
}

// driftReport is sent to the drift-report endpoint
type driftReport struct {
	ClientTimeNS int64 `json:"client_time_ns"`
}

// driftReportResponse carries the offset the server measured for us
type driftReportResponse struct {
	ServerTimeNS int64 `json:"server_time_ns"`
	OffsetNS     int64 `json:"offset_ns"`
}

// Transport produces time samples until it fails or ctx is cancelled.
// Run blocks; a non-nil error (other than ctx.Err()) means the transport
// is considered broken and the cascade moves on.
type Transport interface {
	Name() string
	Run(ctx context.Context, samples chan<- Sample) error
}

// sampleFromFrame builds a Sample from an exchange
func sampleFromFrame(sent time.Time, frame timeFrame, recv time.Time) Sample {
	return Sample{
		LocalSent:  sent,
		ServerTime: time.Unix(0, frame.ServerTimeNS),
		LocalRecv:  recv,
	}
}
