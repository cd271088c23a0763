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

type node struct {
	id       types.StreamID
	current  types.StreamID
	expected types.StreamID

	// reverse edges, who watches or is about to watch this node
	lookers         map[types.StreamID]struct{}
	expectedLookers map[types.StreamID]struct{}
}

func newNode(id types.StreamID) *node {
	return &node{
		id:              id,
		current:         types.NoStream,
		expected:        types.NoStream,
		lookers:         make(map[types.StreamID]struct{}),
		expectedLookers: make(map[types.StreamID]struct{}),
	}
}

func (n *node) lookerCount() int {
	return len(n.lookers) + len(n.expectedLookers)
}

func (n *node) hasCurrentLooker() bool {
	return len(n.lookers) != 0
}

func sortedIDs(set map[types.StreamID]struct{}) []types.StreamID {
	if len(set) == 0 {
		return nil
	}
	ids := make([]types.StreamID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	types.SortStreamIDs(ids)
	return ids
}
