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

package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	s := NewCounters()
	s.UpdateCounterBy("timesync.samples.accepted", 3)
	s.UpdateCounterBy("timesync.samples.accepted", 2)
	s.SetCounter("queue.depth", 7)

	require.Equal(t, int64(5), s.Get("timesync.samples.accepted"))
	require.Equal(t, int64(7), s.Get("queue.depth"))
	require.Equal(t, int64(0), s.Get("missing"))

	all := s.GetCounters()
	require.Len(t, all, 2)

	// the dump is a copy, not a view
	all["queue.depth"] = 100
	require.Equal(t, int64(7), s.Get("queue.depth"))

	dst := NewCounters()
	s.Copy(dst)
	require.Equal(t, int64(5), dst.Get("timesync.samples.accepted"))

	s.Reset()
	require.Equal(t, int64(0), s.Get("queue.depth"))
}

func TestFlattenKey(t *testing.T) {
	require.Equal(t, "timesync_samples_accepted", flattenKey("timesync.samples.accepted"))
	require.Equal(t, "session_start_already_active", flattenKey("session.start/already-active"))
	require.Equal(t, "queue_depth_now", flattenKey("queue.depth now"))
}

func TestExporterScrape(t *testing.T) {
	s := NewCounters()
	s.SetCounter("timesync.drift.ms", 12)
	s.SetCounter("queue.depth", 3)

	e := NewPrometheusExporter(s, 0, time.Minute)
	e.scrapeMetrics()

	families, err := e.registry.Gather()
	require.NoError(t, err)
	found := map[string]float64{}
	for _, mf := range families {
		require.Len(t, mf.Metric, 1)
		found[mf.GetName()] = mf.Metric[0].GetGauge().GetValue()
	}
	require.Equal(t, float64(12), found["timesync_drift_ms"])
	require.Equal(t, float64(3), found["queue_depth"])

	// a rescrape updates the existing gauges instead of re-registering
	s.SetCounter("queue.depth", 9)
	e.scrapeMetrics()
	families, err = e.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "queue_depth" {
			require.Equal(t, float64(9), mf.Metric[0].GetGauge().GetValue())
		}
	}
}
