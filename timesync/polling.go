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
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// pollingTransport requests one reading per HTTP call. The server can
// suggest when to poll next; suggestions are clamped to configured bounds.
type pollingTransport struct {
	url       string
	interval  time.Duration
	timeout   time.Duration
	failLimit int
	minPeriod time.Duration
	maxPeriod time.Duration
	client    *http.Client
}

func newPollingTransport(cfg *Config) *pollingTransport {
	return &pollingTransport{
		url:       cfg.PollURL,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		failLimit: cfg.PollFailLimit,
		minPeriod: cfg.MinPollPeriod,
		maxPeriod: cfg.MaxPollPeriod,
		client:    &http.Client{},
	}
}

func (t *pollingTransport) Name() string {
	return "polling"
}

func (t *pollingTransport) poll(ctx context.Context) (Sample, time.Duration, error) {
	rctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, t.url, nil)
	if err != nil {
		return Sample{}, 0, err
	}
	sent := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return Sample{}, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Sample{}, 0, fmt.Errorf("unexpected status %d from %q", resp.StatusCode, t.url)
	}
	frame := timeFrame{}
	if err := json.NewDecoder(resp.Body).Decode(&frame); err != nil {
		return Sample{}, 0, fmt.Errorf("decoding time frame: %w", err)
	}
	recv := time.Now()

	next := t.interval
	if frame.NextPollMS > 0 {
		next = time.Duration(frame.NextPollMS) * time.Millisecond
		if next < t.minPeriod {
			next = t.minPeriod
		}
		if next > t.maxPeriod {
			next = t.maxPeriod
		}
	}
	return sampleFromFrame(sent, frame, recv), next, nil
}

// Run polls until failLimit consecutive failures
func (t *pollingTransport) Run(ctx context.Context, samples chan<- Sample) error {
	failures := 0
	next := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(next):
		}

		s, suggested, err := t.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			log.Warningf("poll failed (%d/%d): %v", failures, t.failLimit, err)
			if failures >= t.failLimit {
				return fmt.Errorf("polling failed %d times in a row: %w", failures, err)
			}
			next = t.interval
			continue
		}
		failures = 0
		next = suggested

		select {
		case samples <- s:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
