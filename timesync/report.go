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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Reporter talks to the drift-report endpoint: it submits a client
// reading and feeds the measured offset back into the estimator.
// Used by queued resync operations.
type Reporter struct {
	url     string
	timeout time.Duration
	est     *Estimator
	client  *http.Client
}

// NewReporter creates a Reporter feeding est
func NewReporter(cfg *Config, est *Estimator) *Reporter {
	return &Reporter{
		url:     cfg.ReportURL,
		timeout: cfg.Timeout,
		est:     est,
		client:  &http.Client{},
	}
}

// Resync performs one drift-report exchange and applies the result
func (r *Reporter) Resync(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sent := time.Now()
	body, err := json.Marshal(driftReport{ClientTimeNS: sent.UnixNano()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(rctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting drift report: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %q", resp.StatusCode, r.url)
	}
	reply := driftReportResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return fmt.Errorf("decoding drift report response: %w", err)
	}
	recv := time.Now()

	r.est.AddSample(Sample{
		LocalSent:  sent,
		ServerTime: time.Unix(0, reply.ServerTimeNS),
		LocalRecv:  recv,
	})
	return nil
}
