/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics holds the Prometheus collectors of one voice engine context.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "voice_engine"

// Metrics is registered on its own registry so independent contexts never collide.
type Metrics struct {
	Registry *prometheus.Registry

	ArbitrationOutcomes *prometheus.CounterVec
	EnginesLive         *prometheus.GaugeVec
	EngineCreateErrors  *prometheus.CounterVec
	UpdateRequests      *prometheus.CounterVec
	UpdateAttempts      *prometheus.CounterVec
	DroppedChunks       *prometheus.CounterVec
	WakeupTransitions   *prometheus.CounterVec
	ExecutorTasks       prometheus.Counter
	ExecutorQueueDepth  prometheus.Gauge
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ArbitrationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arbitration_outcomes_total",
			Help:      "Arbitration decisions by requested type and outcome.",
		}, []string{"requested", "outcome"}),
		EnginesLive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engines_live",
			Help:      "Live engine instances by type.",
		}, []string{"type"}),
		EngineCreateErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_create_errors_total",
			Help:      "Failed engine creations by type and reason.",
		}, []string{"type", "reason"}),
		UpdateRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_requests_total",
			Help:      "Update requests by outcome.",
		}, []string{"outcome"}),
		UpdateAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_attempts_total",
			Help:      "Completed update attempts by result.",
		}, []string{"result"}),
		DroppedChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wakeup_dropped_chunks_total",
			Help:      "Audio chunks dropped from full wakeup source queues.",
		}, []string{"channel"}),
		WakeupTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wakeup_transitions_total",
			Help:      "Wakeup session state transitions.",
		}, []string{"from", "to"}),
		ExecutorTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_tasks_total",
			Help:      "Tasks run by the task executor.",
		}),
		ExecutorQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_queue_depth",
			Help:      "Tasks waiting in the task executor.",
		}),
	}
	m.Registry.MustRegister(
		m.ArbitrationOutcomes,
		m.EnginesLive,
		m.EngineCreateErrors,
		m.UpdateRequests,
		m.UpdateAttempts,
		m.DroppedChunks,
		m.WakeupTransitions,
		m.ExecutorTasks,
		m.ExecutorQueueDepth,
	)
	return m
}

// OrNew returns m, or a fresh set when m is nil.
func OrNew(m *Metrics) *Metrics {
	if m == nil {
		return New()
	}
	return m
}

// Value reads the current value of a single counter or gauge.
func Value(c prometheus.Metric) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil {
		return m.GetCounter().GetValue()
	}
	return m.GetGauge().GetValue()
}
