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

package sfu

import (
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/buffer"
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
	"github.com/orbit-rtc/orbit-forwarder/pkg/telemetry/prometheus"
)

type ViewerStatus struct {
	ID       types.StreamID     `json:"id"`
	Current  types.StreamID     `json:"current"`
	Expected types.StreamID     `json:"expected"`
	Context  SwitchContextState `json:"context"`
}

type EngineStatus struct {
	Master  types.StreamID                              `json:"master"`
	Viewers []ViewerStatus                              `json:"viewers"`
	Sources map[types.StreamID]buffer.SourceBufferStats `json:"sources"`
	Ticks   uint64                                      `json:"ticks"`
	Packets prometheus.PacketTotals                     `json:"packets"`
}

// Master returns the current speaker, or NoStream when nothing is linked.
func (e *ForwardingEngine) Master() types.StreamID {
	return e.graph.Master()
}

// Status returns a consistent view of routing and buffering, taken under the engine lock.
func (e *ForwardingEngine) Status() EngineStatus {
	e.lock.Lock()
	defer e.lock.Unlock()

	snapshot := e.graph.Snapshot()
	status := EngineStatus{
		Master:  snapshot.Master,
		Viewers: make([]ViewerStatus, 0, len(snapshot.Nodes)),
		Sources: make(map[types.StreamID]buffer.SourceBufferStats, len(e.buffers)),
		Ticks:   e.ticks,
		Packets: prometheus.GetPacketTotals(),
	}
	for _, n := range snapshot.Nodes {
		vs := ViewerStatus{
			ID:       n.ID,
			Current:  n.Current,
			Expected: n.Expected,
		}
		if ctx, ok := e.contexts[n.ID]; ok {
			vs.Context = ctx.State()
		}
		status.Viewers = append(status.Viewers, vs)
	}
	for id, buf := range e.buffers {
		status.Sources[id] = buf.Stats()
	}
	return status
}
