// Copyright 2023 LiveKit, Inc.
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

package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	promSourceSwitches  prometheus.Counter
	promTickDuration    prometheus.Histogram
	promBudgetOverruns  prometheus.Counter
	promListenerPanics  prometheus.Counter
	promSpeakerSwitches *prometheus.CounterVec
)

func initForwardingStats(nodeID string) {
	promSourceSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   orbitNamespace,
		Subsystem:   "forwarding",
		Name:        "source_switches",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
		Help:        "Viewers whose current source changed.",
	})
	promTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   orbitNamespace,
		Subsystem:   "forwarding",
		Name:        "tick_duration_ms",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 25},
	})
	promBudgetOverruns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   orbitNamespace,
		Subsystem:   "forwarding",
		Name:        "latency_budget_overruns",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	})
	promListenerPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   orbitNamespace,
		Subsystem:   "forwarding",
		Name:        "listener_panics",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	})
	promSpeakerSwitches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   orbitNamespace,
		Subsystem:   "forwarding",
		Name:        "speaker_switches",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, []string{"result"})

	prometheus.MustRegister(promSourceSwitches)
	prometheus.MustRegister(promTickDuration)
	prometheus.MustRegister(promBudgetOverruns)
	prometheus.MustRegister(promListenerPanics)
	prometheus.MustRegister(promSpeakerSwitches)
}

func IncrementSourceSwitches() {
	if initialized.Load() {
		promSourceSwitches.Inc()
	}
}

func RecordTick(duration time.Duration, overBudget bool) {
	if !initialized.Load() {
		return
	}
	promTickDuration.Observe(float64(duration) / float64(time.Millisecond))
	if overBudget {
		promBudgetOverruns.Inc()
	}
}

func IncrementListenerPanics() {
	if initialized.Load() {
		promListenerPanics.Inc()
	}
}

// IncrementSpeakerSwitch records the outcome of a proposed speaker change: "applied" or "held".
func IncrementSpeakerSwitch(result string) {
	if initialized.Load() {
		promSpeakerSwitches.WithLabelValues(result).Inc()
	}
}
