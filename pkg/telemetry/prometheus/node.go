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
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const (
	orbitNamespace string = "orbit"
)

var (
	initialized atomic.Bool

	promStreamGauge *prometheus.GaugeVec
	promCPULoad     prometheus.Gauge
	promLoadAvg     prometheus.Gauge
)

type NodeStats struct {
	CPULoad  float32 `json:"cpuLoad"`
	NumCPUs  uint32  `json:"numCpus"`
	LoadAvg1 float64 `json:"loadAvg1"`
}

// Init registers all collectors. Recording helpers are no-ops until Init runs.
func Init(nodeID string) {
	if initialized.Load() {
		return
	}

	promStreamGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   orbitNamespace,
			Subsystem:   "node",
			Name:        "streams",
			ConstLabels: prometheus.Labels{"node_id": nodeID},
			Help:        "Streams currently linked to the forwarding graph.",
		},
		[]string{"state"},
	)

	promCPULoad = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   orbitNamespace,
		Subsystem:   "node",
		Name:        "cpu_load",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	})
	promLoadAvg = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   orbitNamespace,
		Subsystem:   "node",
		Name:        "load_avg_1",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	})

	prometheus.MustRegister(promStreamGauge)
	prometheus.MustRegister(promCPULoad)
	prometheus.MustRegister(promLoadAvg)

	initPacketStats(nodeID)
	initForwardingStats(nodeID)

	initialized.Store(true)
}

func IsInitialized() bool {
	return initialized.Load()
}

func SetStreams(linked, following int) {
	if !initialized.Load() {
		return
	}
	promStreamGauge.WithLabelValues("linked").Set(float64(linked))
	promStreamGauge.WithLabelValues("following").Set(float64(following))
}

// GetNodeStats samples host load. CPU load covers the time since the previous sample.
func GetNodeStats() (NodeStats, error) {
	cpuLoad, numCPUs, err := getCPUStats()
	if err != nil {
		return NodeStats{}, err
	}
	loadAvg, err := getLoadAvg()
	if err != nil {
		return NodeStats{}, err
	}

	if initialized.Load() {
		promCPULoad.Set(float64(cpuLoad))
		promLoadAvg.Set(loadAvg)
	}
	return NodeStats{
		CPULoad:  cpuLoad,
		NumCPUs:  numCPUs,
		LoadAvg1: loadAvg,
	}, nil
}
