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
	"errors"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/practicum/timeclock/queue"
	"github.com/practicum/timeclock/session"
	"github.com/practicum/timeclock/session/sqlite"
	"github.com/practicum/timeclock/stats"
	"github.com/practicum/timeclock/timesync"
)

// flags
var serveConfigFlag string

func init() {
	RootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfigFlag, "config", "c", "", "path to the config file")
	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		log.Fatal(err)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the time tracking daemon",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()
		cfg, err := ReadConfig(serveConfigFlag)
		if err != nil {
			log.Fatal(err)
		}
		if err := doServe(cfg); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal(err)
		}
	},
}

func doServe(cfg *Config) error {
	counters := stats.NewCounters()

	store, err := sqlite.Open(cfg.Session.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	est := timesync.NewEstimator(cfg.Timesync.Estimator, counters)
	runner := timesync.NewRunner(&cfg.Timesync, est)
	reporter := timesync.NewReporter(&cfg.Timesync, est)

	opts := []session.EngineOpt{session.WithTimeSource(est)}
	if len(cfg.Session.Sites) > 0 {
		cache, err := session.NewSiteCache(newStaticSites(cfg.Session.Sites), cfg.Session.SiteCacheSize)
		if err != nil {
			return err
		}
		opts = append(opts, session.WithSites(cache))
	}
	engine := session.NewEngine(store, cfg.Session.Policy, opts...)

	q, err := queue.New(cfg.Queue)
	if err != nil {
		return err
	}
	exec := &queue.EngineExecutor{Engine: engine, Reporter: reporter}
	online := queue.ConnectivityFunc(func() bool { return est.Status().Connected })
	proc := queue.NewProcessor(&cfg.Queue, q, exec, online)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return runner.Run(ctx)
	})
	eg.Go(func() error {
		return proc.Run(ctx)
	})
	eg.Go(func() error {
		return publishCounters(ctx, q, est, counters)
	})
	if cfg.Metrics.ListenPort > 0 {
		exporter := stats.NewPrometheusExporter(counters, cfg.Metrics.ListenPort, cfg.Metrics.ScrapeInterval)
		eg.Go(func() error {
			return exporter.Start(ctx)
		})
	}

	log.Infof("timeclockd running, db=%s queue=%s", cfg.Session.DBPath, cfg.Queue.Path)
	return eg.Wait()
}

// publishCounters pushes queue depth and sync status into the counter
// registry for the exporter to pick up.
func publishCounters(ctx context.Context, q *queue.Queue, est *timesync.Estimator, counters *stats.Counters) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		qs := q.Status()
		counters.SetCounter("queue.pending", int64(qs.Pending))
		counters.SetCounter("queue.failed", int64(qs.Failed))
		counters.SetCounter("queue.total", int64(qs.Total))

		st := est.Status()
		counters.SetCounter("timesync.drift.ms", st.Drift.Milliseconds())
		counters.SetCounter("timesync.health", int64(st.Health))
		var connected int64
		if st.Connected {
			connected = 1
		}
		counters.SetCounter("timesync.connected", connected)
	}
}
