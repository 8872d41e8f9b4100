// Prometheus metrics for the mining rig
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RigMetrics holds every metric the host exports. All methods are safe on
// a nil receiver so callers can run without metrics.
type RigMetrics struct {
	registry *prometheus.Registry

	Stage        *prometheus.GaugeVec
	Ticks        prometheus.Counter
	TickDuration prometheus.Histogram
	Rotations    prometheus.Gauge
	Steps        prometheus.Gauge
	Progress     prometheus.Gauge
	Stalls       *prometheus.CounterVec
	Recoveries   *prometheus.CounterVec
	Runs         *prometheus.CounterVec
	Position     *prometheus.GaugeVec
	Rate         *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	startTime time.Time
}

// NewRigMetrics creates the metrics on a private registry, together with
// the Go runtime and process collectors.
func NewRigMetrics() *RigMetrics {
	m := &RigMetrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	m.Stage = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "churnrig_stage",
		Help: "Current cycle stage (1 for the active stage)",
	}, []string{"stage"})
	m.Ticks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "churnrig_ticks_total",
		Help: "Ticks processed by the cycle engine",
	})
	m.TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "churnrig_tick_duration_seconds",
		Help:    "Time spent in one engine tick",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
	})
	m.Rotations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "churnrig_rotations",
		Help: "Rotations completed in the current run",
	})
	m.Steps = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "churnrig_steps",
		Help: "Piston steps completed in the current run",
	})
	m.Progress = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "churnrig_rotation_progress_degrees",
		Help: "Degrees turned in the current Drilling stage",
	})
	m.Stalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "churnrig_stalls_total",
		Help: "Stalls detected per actuator",
	}, []string{"axis"})
	m.Recoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "churnrig_recoveries_total",
		Help: "Recovery actions taken",
	}, []string{"action"})
	m.Runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "churnrig_runs_total",
		Help: "Completed runs by outcome",
	}, []string{"outcome"})
	m.Position = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "churnrig_actuator_position",
		Help: "Actuator position (degrees for rotors)",
	}, []string{"axis"})
	m.Rate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "churnrig_actuator_rate",
		Help: "Commanded actuator rate per second",
	}, []string{"axis"})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "churnrig_http_requests_total",
		Help: "HTTP requests by route and status",
	}, []string{"route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "churnrig_http_request_duration_seconds",
		Help:    "HTTP request duration by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "churnrig_uptime_seconds",
		Help: "Seconds since the host started",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	m.registry.MustRegister(
		m.Stage, m.Ticks, m.TickDuration,
		m.Rotations, m.Steps, m.Progress,
		m.Stalls, m.Recoveries, m.Runs,
		m.Position, m.Rate,
		m.httpRequests, m.httpDuration,
		uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *RigMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetStage marks stage as the only active one.
func (m *RigMetrics) SetStage(stage string) {
	if m == nil {
		return
	}
	m.Stage.Reset()
	m.Stage.WithLabelValues(stage).Set(1)
}

// ObserveTick counts a tick and how long it took.
func (m *RigMetrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.TickDuration.Observe(d.Seconds())
}

// SetProgress updates the per-run counters.
func (m *RigMetrics) SetProgress(rotations, steps int, degrees float64) {
	if m == nil {
		return
	}
	m.Rotations.Set(float64(rotations))
	m.Steps.Set(float64(steps))
	m.Progress.Set(degrees)
}

// SetActuator records an actuator's position and commanded rate.
func (m *RigMetrics) SetActuator(axis string, position, rate float64) {
	if m == nil {
		return
	}
	m.Position.WithLabelValues(axis).Set(position)
	m.Rate.WithLabelValues(axis).Set(rate)
}

func (m *RigMetrics) RecordStall(axis string) {
	if m == nil {
		return
	}
	m.Stalls.WithLabelValues(axis).Inc()
}

func (m *RigMetrics) RecordRecovery(action string) {
	if m == nil {
		return
	}
	m.Recoveries.WithLabelValues(action).Inc()
}

// RunEnded counts a finished run and clears the per-run gauges.
func (m *RigMetrics) RunEnded(outcome string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.Progress.Set(0)
	m.Rate.Reset()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests to next under route.
func (m *RigMetrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)
		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *RigMetrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
