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
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// streamingTransport exchanges time readings over a persistent websocket.
// Best accuracy of the cascade: no per-request connection setup cost.
type streamingTransport struct {
	url      string
	interval time.Duration
	timeout  time.Duration
}

func newStreamingTransport(cfg *Config) *streamingTransport {
	return &streamingTransport{
		url:      cfg.WSURL,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
	}
}

func (t *streamingTransport) Name() string {
	return "streaming"
}

func (t *streamingTransport) Run(ctx context.Context, samples chan<- Sample) error {
	dialer := websocket.Dialer{HandshakeTimeout: t.timeout}
	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dialing %q: %w", t.url, err)
	}
	defer conn.Close()
	log.Debugf("streaming transport connected to %s", t.url)

	// unblock reads when ctx is cancelled
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		sent := time.Now()
		if err := conn.SetWriteDeadline(sent.Add(t.timeout)); err != nil {
			return err
		}
		if err := conn.WriteJSON(timeRequest{ClientTimeNS: sent.UnixNano()}); err != nil {
			return fmt.Errorf("writing time request: %w", err)
		}
		if err := conn.SetReadDeadline(sent.Add(t.timeout)); err != nil {
			return err
		}
		frame := timeFrame{}
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading time frame: %w", err)
		}
		recv := time.Now()

		select {
		case samples <- sampleFromFrame(sent, frame, recv):
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
