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

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/practicum/timeclock/queue"
	"github.com/practicum/timeclock/session"
	"github.com/practicum/timeclock/timesync"
)

// SiteConfig declares one known work site
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// SessionConfig groups store and policy settings
type SessionConfig struct {
	DBPath        string         `yaml:"db_path"`
	SiteCacheSize int            `yaml:"site_cache_size"`
	Sites         []SiteConfig   `yaml:"sites"`
	Policy        session.Policy `yaml:"policy"`
}

// MetricsConfig controls the Prometheus exporter. Port 0 disables it.
type MetricsConfig struct {
	ListenPort     int           `yaml:"listen_port"`
	ScrapeInterval time.Duration `yaml:"scrape_interval"`
}

// Config is the single daemon config file
type Config struct {
	Timesync timesync.Config `yaml:"timesync"`
	Session  SessionConfig   `yaml:"session"`
	Queue    queue.Config    `yaml:"queue"`
	Metrics  MetricsConfig   `yaml:"metrics"`
}

// DefaultConfig returns Config initialized with default values
func DefaultConfig() *Config {
	return &Config{
		Timesync: *timesync.DefaultConfig(),
		Session: SessionConfig{
			DBPath:        "timeclock.db",
			SiteCacheSize: 128,
			Policy:        session.DefaultPolicy(),
		},
		Queue: *queue.DefaultConfig(),
		Metrics: MetricsConfig{
			ListenPort:     4040,
			ScrapeInterval: 30 * time.Second,
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
	if err := yaml.Unmarshal(cData, c); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return c, nil
}

// staticSites is the config-file-backed site directory
type staticSites map[string]session.Site

func newStaticSites(sites []SiteConfig) staticSites {
	out := staticSites{}
	for _, s := range sites {
		out[s.ID] = session.Site{ID: s.ID, Name: s.Name, Timezone: s.Timezone}
	}
	return out
}

// LookupSite implements session.SiteDirectory
func (s staticSites) LookupSite(_ context.Context, id string) (session.Site, error) {
	site, ok := s[id]
	if !ok {
		return session.Site{}, fmt.Errorf("no such site %q", id)
	}
	return site, nil
}
