// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package metrics instruments query stages
// with Prometheus collectors.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/SnellerInc/xquery"
)

// Stage holds the collectors of one or more
// stages. A nil *Stage records nothing.
type Stage struct {
	Pages         prometheus.Counter
	Items         prometheus.Counter
	RequestCharge prometheus.Counter
	Fetches       *prometheus.CounterVec
	FetchSeconds  prometheus.Histogram
}

// New creates the collectors and registers them
// with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Stage {
	f := promauto.With(reg)
	return &Stage{
		Pages: f.NewCounter(prometheus.CounterOpts{
			Name: "xquery_pages_total",
			Help: "Total number of pages emitted by query stages",
		}),
		Items: f.NewCounter(prometheus.CounterOpts{
			Name: "xquery_items_total",
			Help: "Total number of items emitted by query stages",
		}),
		RequestCharge: f.NewCounter(prometheus.CounterOpts{
			Name: "xquery_request_charge_total",
			Help: "Sum of the request charges reported by the backend",
		}),
		Fetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xquery_backend_fetches_total",
			Help: "Total number of backend page requests by outcome",
		}, []string{"outcome"}),
		FetchSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "xquery_backend_fetch_duration_seconds",
			Help:    "Latency of backend page requests in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Outcome classifies the result of a backend request.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, xquery.ErrTransient):
		return "transient"
	case errors.Is(err, xquery.ErrRangeGone):
		return "gone"
	default:
		return "error"
	}
}

// ObserveFetch records one backend request.
func (s *Stage) ObserveFetch(elapsed time.Duration, err error) {
	if s == nil {
		return
	}
	s.Fetches.WithLabelValues(Outcome(err)).Inc()
	s.FetchSeconds.Observe(elapsed.Seconds())
}

// ObservePage records one emitted page.
func (s *Stage) ObservePage(items int, charge float64) {
	if s == nil {
		return
	}
	s.Pages.Inc()
	s.Items.Add(float64(items))
	if charge > 0 {
		s.RequestCharge.Add(charge)
	}
}
