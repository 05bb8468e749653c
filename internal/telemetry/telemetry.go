// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry exports Prometheus counters/gauges describing the
// engine's own behavior: events captured vs. dropped by the mask test,
// sinks opened/closed, dispatcher rule matches, and host-table size.
//
// Grounded on internal/ratelimiter/telemetry/churn/prom_counters.go: package-
// global prometheus.* values registered once in init(), with a standalone
// /metrics HTTP endpoint helper callers may opt into.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsCapturedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dbtrace_events_captured_total",
		Help: "Total log events appended to a request's event log (mask test passed).",
	})
	eventsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dbtrace_events_dropped_total",
		Help: "Total log calls short-circuited by the mask test before formatting or copying.",
	})
	sinksOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dbtrace_sinks_opened_total",
		Help: "Total named output sinks opened (first reference).",
	})
	sinksClosedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dbtrace_sinks_closed_total",
		Help: "Total named output sinks closed (refcount reached zero).",
	})
	dispatchMatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dbtrace_dispatch_matches_total",
		Help: "Total (rule, request) matches fanned out to a sink at end-of-request.",
	})
	longRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dbtrace_long_requests_total",
		Help: "Total requests that crossed the long-request threshold.",
	})
	hostTableSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dbtrace_host_table_size",
		Help: "Current number of distinct hosts tracked by the per-host counter table.",
	})
)

func init() {
	prometheus.MustRegister(
		eventsCapturedTotal, eventsDroppedTotal,
		sinksOpenedTotal, sinksClosedTotal,
		dispatchMatchesTotal, longRequestsTotal,
		hostTableSize,
	)
}

// EventCaptured records a log call that passed the mask test and was
// appended to the event log.
func EventCaptured() { eventsCapturedTotal.Inc() }

// EventDropped records a log call short-circuited by the mask test.
func EventDropped() { eventsDroppedTotal.Inc() }

// SinkOpened records a named sink's first open.
func SinkOpened() { sinksOpenedTotal.Inc() }

// SinkClosed records a named sink closing once its refcount hits zero.
func SinkClosed() { sinksClosedTotal.Inc() }

// DispatchMatch records one rule match fanned out to a sink.
func DispatchMatch() { dispatchMatchesTotal.Inc() }

// LongRequest records one request crossing the long-request threshold.
func LongRequest() { longRequestsTotal.Inc() }

// SetHostTableSize publishes the current distinct-host count.
func SetHostTableSize(n int) { hostTableSize.Set(float64(n)) }

// ServeMetrics starts a background HTTP server exposing /metrics on addr.
// Best-effort, matching churn.startMetricsEndpoint: errors from
// ListenAndServe are not surfaced since the caller has no synchronous way to
// act on a background listener failing after startup.
func ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
