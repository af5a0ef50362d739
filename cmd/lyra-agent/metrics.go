// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lyra-voice/lyra/lib/hostinfo"
)

// agentMetrics is the Prometheus instrumentation for the agent. All
// methods are nil-safe so components constructed without metrics
// (tests, metrics listener disabled) skip instrumentation without
// branching at every call site.
type agentMetrics struct {
	registry *prometheus.Registry

	heartbeats     *prometheus.CounterVec
	interventions  *prometheus.CounterVec
	clientRestarts prometheus.Counter

	cpuPercent   prometheus.Gauge
	memoryUsedMB prometheus.Gauge
	diskFreeMB   prometheus.Gauge
	socTempC     prometheus.Gauge
}

func newAgentMetrics() *agentMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &agentMetrics{
		registry: registry,
		heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lyra_heartbeats_total",
			Help: "Heartbeat attempts by result.",
		}, []string{"result"}),
		interventions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lyra_interventions_total",
			Help: "Backend interventions executed, by kind and result.",
		}, []string{"kind", "result"}),
		clientRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "lyra_client_restarts_total",
			Help: "Client restarts since the agent started.",
		}),
		cpuPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lyra_host_cpu_percent",
			Help: "Host CPU utilization at the last heartbeat.",
		}),
		memoryUsedMB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lyra_host_memory_used_mb",
			Help: "Host memory in use at the last heartbeat.",
		}),
		diskFreeMB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lyra_host_disk_free_mb",
			Help: "Free space on the state filesystem at the last heartbeat.",
		}),
		socTempC: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lyra_host_soc_temp_celsius",
			Help: "SoC temperature at the last heartbeat.",
		}),
	}
}

func (m *agentMetrics) heartbeatFinished(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.heartbeats.WithLabelValues(result).Inc()
}

func (m *agentMetrics) interventionExecuted(kind, result string) {
	if m == nil {
		return
	}
	m.interventions.WithLabelValues(kind, result).Inc()
}

func (m *agentMetrics) clientRestarted() {
	if m == nil {
		return
	}
	m.clientRestarts.Inc()
}

func (m *agentMetrics) observeHost(metrics hostinfo.Metrics) {
	if m == nil {
		return
	}
	m.cpuPercent.Set(metrics.CPUPercent)
	m.memoryUsedMB.Set(float64(metrics.MemoryUsedMB))
	m.diskFreeMB.Set(float64(metrics.DiskFreeMB))
	m.socTempC.Set(metrics.SoCTempC)
}

// serveMetrics runs the localhost Prometheus listener until ctx is
// cancelled. The listener is plain HTTP on a loopback address; the
// metrics carry no secrets.
func serveMetrics(ctx context.Context, addr string, metrics *agentMetrics, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.Info("metrics listener started", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
