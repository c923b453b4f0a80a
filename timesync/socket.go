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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// socketTransport is the last resort network path: a plain TCP
// connection with newline-delimited JSON request/response pairs.
type socketTransport struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
}

func newSocketTransport(cfg *Config) *socketTransport {
	return &socketTransport{
		addr:     cfg.SocketAddr,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
	}
}

func (t *socketTransport) Name() string {
	return "socket"
}

func (t *socketTransport) Run(ctx context.Context, samples chan<- Sample) error {
	conn, err := net.DialTimeout("tcp", t.addr, t.timeout)
	if err != nil {
		return fmt.Errorf("dialing %q: %w", t.addr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		sent := time.Now()
		if err := conn.SetDeadline(sent.Add(t.timeout)); err != nil {
			return err
		}
		req, err := json.Marshal(timeRequest{ClientTimeNS: sent.UnixNano()})
		if err != nil {
			return err
		}
		if _, err := conn.Write(append(req, '\n')); err != nil {
			return fmt.Errorf("writing time request: %w", err)
		}
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading time frame: %w", err)
		}
		recv := time.Now()
		frame := timeFrame{}
		if err := json.Unmarshal(line, &frame); err != nil {
			return fmt.Errorf("decoding time frame: %w", err)
		}

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
