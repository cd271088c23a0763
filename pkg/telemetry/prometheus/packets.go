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

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

var (
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	packetsIn  atomic.Uint64
	packetsOut atomic.Uint64

	promPacketLabels = []string{"direction"}

	promPacketTotal *prometheus.CounterVec
	promPacketBytes *prometheus.CounterVec
	promPacketDrops *prometheus.CounterVec
	promPliTotal    *prometheus.CounterVec
	promFirTotal    *prometheus.CounterVec
)

func initPacketStats(nodeID string) {
	promPacketTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   orbitNamespace,
		Subsystem:   "packet",
		Name:        "total",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, promPacketLabels)
	promPacketBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   orbitNamespace,
		Subsystem:   "packet",
		Name:        "bytes",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, promPacketLabels)
	promPacketDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   orbitNamespace,
		Subsystem:   "packet",
		Name:        "dropped",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, []string{"reason"})
	promPliTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   orbitNamespace,
		Subsystem:   "pli",
		Name:        "total",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, promPacketLabels)
	promFirTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   orbitNamespace,
		Subsystem:   "fir",
		Name:        "total",
		ConstLabels: prometheus.Labels{"node_id": nodeID},
	}, promPacketLabels)

	prometheus.MustRegister(promPacketTotal)
	prometheus.MustRegister(promPacketBytes)
	prometheus.MustRegister(promPacketDrops)
	prometheus.MustRegister(promPliTotal)
	prometheus.MustRegister(promFirTotal)
}

func IncrementPackets(direction Direction, count uint64) {
	if direction == Incoming {
		packetsIn.Add(count)
	} else {
		packetsOut.Add(count)
	}
	if initialized.Load() {
		promPacketTotal.WithLabelValues(string(direction)).Add(float64(count))
	}
}

func IncrementBytes(direction Direction, count uint64) {
	if direction == Incoming {
		bytesIn.Add(count)
	} else {
		bytesOut.Add(count)
	}
	if initialized.Load() {
		promPacketBytes.WithLabelValues(string(direction)).Add(float64(count))
	}
}

func IncrementDropped(reason string) {
	if initialized.Load() {
		promPacketDrops.WithLabelValues(reason).Inc()
	}
}

func IncrementRTCP(direction Direction, pli, fir int32) {
	if !initialized.Load() {
		return
	}
	if pli > 0 {
		promPliTotal.WithLabelValues(string(direction)).Add(float64(pli))
	}
	if fir > 0 {
		promFirTotal.WithLabelValues(string(direction)).Add(float64(fir))
	}
}

type PacketTotals struct {
	PacketsIn  uint64 `json:"packetsIn"`
	PacketsOut uint64 `json:"packetsOut"`
	BytesIn    uint64 `json:"bytesIn"`
	BytesOut   uint64 `json:"bytesOut"`
}

// GetPacketTotals is tracked regardless of registration so status reports work without a registry.
func GetPacketTotals() PacketTotals {
	return PacketTotals{
		PacketsIn:  packetsIn.Load(),
		PacketsOut: packetsOut.Load(),
		BytesIn:    bytesIn.Load(),
		BytesOut:   bytesOut.Load(),
	}
}
