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

package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter publishes per-server gauges and the responder counters
// on a /metrics-style endpoint
type PrometheusExporter struct {
	monitor  *Monitor
	registry *prometheus.Registry

	quality      *prometheus.GaugeVec
	rtt          *prometheus.GaugeVec
	offset       *prometheus.GaugeVec
	availability *prometheus.GaugeVec
	reachable    *prometheus.GaugeVec
	responder    *prometheus.GaugeVec
	gpsFresh     prometheus.Gauge
	gpsSats      prometheus.Gauge
}

// NewPrometheusExporter creates an exporter over the monitor
func NewPrometheusExporter(m *Monitor) *PrometheusExporter {
	e := &PrometheusExporter{
		monitor:  m,
		registry: prometheus.NewRegistry(),
		quality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ntp_server_quality_score",
			Help: "Quality score 0-100",
		}, []string{"server"}),
		rtt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ntp_server_rtt_ms",
			Help: "Most recent round trip time in milliseconds",
		}, []string{"server"}),
		offset: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ntp_server_offset_ms",
			Help: "Most recent clock offset in milliseconds",
		}, []string{"server"}),
		availability: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ntp_server_availability_percent",
			Help: "Share of successful probes",
		}, []string{"server"}),
		reachable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ntp_server_reachable",
			Help: "1 when the last probe succeeded",
		}, []string{"server"}),
		responder: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ntp_responder_counter",
			Help: "Responder activity counters",
		}, []string{"counter"}),
		gpsFresh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gps_time_fresh",
			Help: "1 while the GPS time is fresh enough to serve",
		}),
		gpsSats: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gps_satellites",
			Help: "Satellites used in the current fix",
		}),
	}
	e.registry.MustRegister(e.quality, e.rtt, e.offset, e.availability, e.reachable, e.responder, e.gpsFresh, e.gpsSats)
	return e
}

// Handler returns the HTTP handler, refreshed on every scrape
func (e *PrometheusExporter) Handler() http.Handler {
	inner := promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.refresh()
		inner.ServeHTTP(w, r)
	})
}

func (e *PrometheusExporter) refresh() {
	for _, row := range e.monitor.Comparison() {
		labels := prometheus.Labels{"server": row.Server}
		e.quality.With(labels).Set(row.QualityScore)
		e.rtt.With(labels).Set(row.CurrentRTT)
		e.offset.With(labels).Set(row.CurrentOffset)
		e.availability.With(labels).Set(row.Availability)
		if row.Reachable {
			e.reachable.With(labels).Set(1)
		} else {
			e.reachable.With(labels).Set(0)
		}
	}
	if e.monitor.ResponderStats != nil {
		for name, value := range e.monitor.ResponderStats.Counters() {
			e.responder.With(prometheus.Labels{"counter": name}).Set(float64(value))
		}
	}
	if e.monitor.Source != nil {
		snap := e.monitor.Source.Snapshot()
		if snap.Fresh {
			e.gpsFresh.Set(1)
		} else {
			e.gpsFresh.Set(0)
		}
		e.gpsSats.Set(float64(snap.Satellites))
	}
}
