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
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// EstimatorConfig describes how samples are filtered and classified
type EstimatorConfig struct {
	WindowSize           int           `yaml:"window_size"`             // ring buffer capacity
	MinSamplesForOutlier int           `yaml:"min_samples_for_outlier"` // below this, outlier rejection is off
	OutlierSigma         float64       `yaml:"outlier_sigma"`           // reject samples this many stddevs from the mean
	DriftHigh            time.Duration `yaml:"drift_high"`              // drift below this (and RTT below rtt_high) is high accuracy
	RTTHigh              time.Duration `yaml:"rtt_high"`
	DriftMedium          time.Duration `yaml:"drift_medium"`
	RTTMedium            time.Duration `yaml:"rtt_medium"`
	TrendThreshold       time.Duration `yaml:"trend_threshold"`    // smaller deltas between window halves read as stable
	HealthDriftUnit      time.Duration `yaml:"health_drift_unit"`  // each unit of drift costs one health point
	OfflineGracePeriod   time.Duration `yaml:"offline_grace_period"` // offline this long degrades accuracy to low
}

// Config specifies estimator run options
type Config struct {
	Interval       time.Duration `yaml:"interval"`         // how often to exchange with the time source
	Timeout        time.Duration `yaml:"timeout"`          // per-exchange deadline
	FallbackDelay  time.Duration `yaml:"fallback_delay"`   // pause before falling back from streaming to polling
	PollFailLimit  int           `yaml:"poll_fail_limit"`  // consecutive poll failures before socket fallback
	OfflineRetry   time.Duration `yaml:"offline_retry"`    // how often to restart the cascade while offline
	MinPollPeriod  time.Duration `yaml:"min_poll_period"`  // clamp for server-suggested poll intervals
	MaxPollPeriod  time.Duration `yaml:"max_poll_period"`
	WSURL          string        `yaml:"ws_url"`     // streaming endpoint
	PollURL        string        `yaml:"poll_url"`   // polling endpoint
	ReportURL      string        `yaml:"report_url"` // drift-report endpoint
	SocketAddr     string        `yaml:"socket_addr"`
	Estimator      EstimatorConfig `yaml:"estimator"`
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Interval:      10 * time.Second,
		Timeout:       5 * time.Second,
		FallbackDelay: 5 * time.Second,
		PollFailLimit: 3,
		OfflineRetry:  30 * time.Second,
		MinPollPeriod: time.Second,
		MaxPollPeriod: 5 * time.Minute,
		Estimator: EstimatorConfig{
			WindowSize:           20,
			MinSamplesForOutlier: 5,
			OutlierSigma:         3.0,
			DriftHigh:            50 * time.Millisecond,
			RTTHigh:              200 * time.Millisecond,
			DriftMedium:          100 * time.Millisecond,
			RTTMedium:            500 * time.Millisecond,
			TrendThreshold:       5 * time.Millisecond,
			HealthDriftUnit:      2 * time.Millisecond,
			OfflineGracePeriod:   3 * time.Minute,
		},
	}
}

// ReadConfig reads config from the file
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(cData, c)
	if err != nil {
		return nil, err
	}

	return c, nil
}
