/*
 * MIT License
 *
 * Copyright (c) 2026 ringcache contributors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command ringcached wires the ring, monitor, autoscaler and dispatcher into
// a single self-scaling cache-fleet load balancer process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ringfleet/ringcache/internal/autoscaler"
	"github.com/ringfleet/ringcache/internal/config"
	"github.com/ringfleet/ringcache/internal/dispatcher"
	"github.com/ringfleet/ringcache/internal/hashring"
	"github.com/ringfleet/ringcache/internal/logging"
	"github.com/ringfleet/ringcache/internal/monitor"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "ringcached",
		Short: "self-scaling consistent-hashing cache fleet dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath)
		},
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "", "path to a configuration file (yaml/json/toml)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(viper.New(), cfgPath)
	if err != nil {
		return err
	}

	log := logging.New(logging.Options{Level: cfg.LogLevel, JSON: cfg.LogJSON})

	ring := hashring.New(cfg.RingSize, hashring.ParseHashFunc(cfg.HashFunctionID), 42)

	mon := monitor.New(monitor.Config{
		PollTimeout: cfg.PollTimeout(),
		RecordTTL:   cfg.RecordTTL(),
	}, nil, log)

	mgr := autoscaler.New(autoscaler.Config{
		TargetCF:             cfg.TargetCF,
		GrowthRate:           cfg.GrowthRate,
		ModulationInterval:   cfg.ModulationInterval(),
		InitialBackendCount:  cfg.InitialBackendCount,
		PortRangeLo:          cfg.SelectablePortRangeLo,
		PortRangeHi:          cfg.SelectablePortRangeHi,
		BackendReadyTimeout:  cfg.BackendReadyTimeout(),
		ShutdownGraceTimeout: cfg.BackendShutdownGrace(),
	}, mon, log)

	disp := dispatcher.New(dispatcher.Config{
		RedistributionInterval: cfg.RedistributionInterval(),
		InitialAngles:          cfg.InitialAnglesPerServer,
		Cutoffs:                dispatcher.Cutoffs(cfg.ServerLoadCutoffs),
	}, ring, mon, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	clientSrv := &http.Server{Addr: cfg.DispatcherAddr, Handler: disp.Handler()}
	controlSrv := &http.Server{Addr: cfg.ManagerAddr, Handler: withMetrics(mgr.Handler())}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return serveUntilCancel(gctx, clientSrv, log) })
	g.Go(func() error { return serveUntilCancel(gctx, controlSrv, log) })
	g.Go(func() error { return disp.Run(gctx) })
	g.Go(func() error { return mgr.Start(gctx) })
	g.Go(func() error { return pollLoop(gctx, mon, cfg.PollInterval()) })

	log.WithFields(logrus.Fields{
		"dispatcher_addr": cfg.DispatcherAddr,
		"manager_addr":    cfg.ManagerAddr,
	}).Info("ringcached started")

	return g.Wait()
}

// pollLoop drives the monitor's telemetry polling on its own cadence,
// independent of the manager's modulation loop and the dispatcher's
// redistribution loop (spec §5).
func pollLoop(ctx context.Context, mon *monitor.Monitor, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			mon.PingAll(ctx)
		}
	}
}

// serveUntilCancel runs srv until ctx is cancelled, then shuts it down
// gracefully.
func serveUntilCancel(ctx context.Context, srv *http.Server, log logrus.FieldLogger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && log != nil {
			log.WithError(err).Warn("server shutdown did not complete cleanly")
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// withMetrics mounts a Prometheus /metrics endpoint alongside the manager's
// own routes — the ambient observability surface spec §1 excludes from the
// core but a production fleet controller would still carry.
func withMetrics(h http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", h)
	return mux
}
