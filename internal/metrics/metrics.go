// Copyright (c) 2026 John Earle
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

// Package metrics exposes Prometheus metrics for assessments and mitigations.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the service's collectors. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	assessments *prometheus.CounterVec
	mitigations *prometheus.CounterVec
	degraded    *prometheus.CounterVec
	duration    prometheus.Histogram
	gatherer    prometheus.Gatherer
}

// NewRecorder creates the collectors and registers them on reg. A nil reg
// uses a fresh registry.
func NewRecorder(reg *prometheus.Registry) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Recorder{
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailguard_assessments_total",
			Help: "Messages assessed, by recommended action and report status",
		}, []string{"action", "status"}),
		mitigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailguard_mitigations_total",
			Help: "Mitigation attempts, by action and result",
		}, []string{"action", "result"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailguard_subanalysis_degraded_total",
			Help: "Sub-analyses that fell back to a conservative default",
		}, []string{"analysis"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailguard_assessment_duration_seconds",
			Help:    "Time to assess one message",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		gatherer: reg,
	}
	var err error
	if r.assessments, err = register(reg, r.assessments); err != nil {
		return nil, err
	}
	if r.mitigations, err = register(reg, r.mitigations); err != nil {
		return nil, err
	}
	if r.degraded, err = register(reg, r.degraded); err != nil {
		return nil, err
	}
	if r.duration, err = register(reg, r.duration); err != nil {
		return nil, err
	}
	return r, nil
}

// register adds c to reg. If an identical collector is already registered,
// that one is returned instead.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// Assessment records one completed assessment.
func (r *Recorder) Assessment(action, status string, took time.Duration) {
	if r == nil {
		return
	}
	r.assessments.WithLabelValues(action, status).Inc()
	r.duration.Observe(took.Seconds())
}

// Mitigation records one mitigation attempt.
func (r *Recorder) Mitigation(action, result string) {
	if r == nil {
		return
	}
	r.mitigations.WithLabelValues(action, result).Inc()
}

// Degraded records a sub-analysis fallback.
func (r *Recorder) Degraded(analysis string) {
	if r == nil {
		return
	}
	r.degraded.WithLabelValues(analysis).Inc()
}

// Handler serves the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
