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

package graph

import (
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
)

type lookerState struct {
	count      int
	hasCurrent bool
}

// detector captures looker state before a mutation and derives lifecycle events from the difference.
type detector struct {
	before    map[types.StreamID]lookerState
	beforeIDs []types.StreamID
}

func newDetector(nodes map[types.StreamID]*node) *detector {
	d := &detector{
		before:    make(map[types.StreamID]lookerState, len(nodes)),
		beforeIDs: make([]types.StreamID, 0, len(nodes)),
	}
	for id, n := range nodes {
		d.before[id] = lookerState{
			count:      n.lookerCount(),
			hasCurrent: n.hasCurrentLooker(),
		}
		d.beforeIDs = append(d.beforeIDs, id)
	}
	types.SortStreamIDs(d.beforeIDs)
	return d
}

func (d *detector) detect(nodes map[types.StreamID]*node, batch *eventBatch) {
	afterIDs := make([]types.StreamID, 0, len(nodes))
	for id := range nodes {
		afterIDs = append(afterIDs, id)
	}
	types.SortStreamIDs(afterIDs)

	// Enabled: gained its first looker, current or expected
	for _, id := range afterIDs {
		if nodes[id].lookerCount() == 0 {
			continue
		}
		if old, ok := d.before[id]; !ok || old.count == 0 {
			batch.add(EventTypeEnabled, id)
		}
	}

	// Disabled: lost its last looker, including removed nodes that had lookers
	for _, id := range d.beforeIDs {
		if d.before[id].count == 0 {
			continue
		}
		if n, ok := nodes[id]; !ok || n.lookerCount() == 0 {
			batch.add(EventTypeDisabled, id)
		}
	}

	// HasLooker: someone is watching it now
	for _, id := range afterIDs {
		if !nodes[id].hasCurrentLooker() {
			continue
		}
		if old, ok := d.before[id]; !ok || !old.hasCurrent {
			batch.add(EventTypeHasLooker, id)
		}
	}

	// NoLooker: nobody is watching it any more, surviving nodes only
	for _, id := range d.beforeIDs {
		if !d.before[id].hasCurrent {
			continue
		}
		if n, ok := nodes[id]; ok && !n.hasCurrentLooker() {
			batch.add(EventTypeNoLooker, id)
		}
	}
}
