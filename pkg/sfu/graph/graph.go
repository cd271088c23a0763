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
	"errors"
	"sync"

	"github.com/livekit/protocol/logger"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
)

var (
	errInvalidMaster = errors.New("master does not match membership")
)

type SourceGraphParams struct {
	Logger logger.Logger
}

// SourceGraph tracks, for every linked stream, the source it currently watches and the source it
// is switching to. Every mutation returns the events it caused, in order.
//
// A switch is two phase: the mutation sets an expected edge and emits Prepare for the target, and
// SetPrepared later promotes the expected edge to the current one.
type SourceGraph struct {
	params SourceGraphParams
	logger logger.Logger

	lock   sync.RWMutex
	nodes  map[types.StreamID]*node
	master types.StreamID
}

func NewSourceGraph(params SourceGraphParams) *SourceGraph {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	return &SourceGraph{
		params: params,
		logger: params.Logger,
		nodes:  make(map[types.StreamID]*node),
		master: types.NoStream,
	}
}

// Add links a new stream. The first stream becomes master and watches itself, the second one
// and the master watch each other, later ones watch the master.
func (g *SourceGraph) Add(id types.StreamID) []Event {
	g.lock.Lock()
	defer g.lock.Unlock()

	if _, ok := g.nodes[id]; ok {
		return nil
	}

	d := newDetector(g.nodes)
	batch := &eventBatch{}

	n := newNode(id)
	g.nodes[id] = n
	switch len(g.nodes) {
	case 1:
		g.master = id
		g.setExpectedLocked(n, id, batch)

	case 2:
		g.setExpectedLocked(g.nodes[g.master], id, batch)
		g.setExpectedLocked(n, g.master, batch)

	default:
		g.setExpectedLocked(n, g.master, batch)
	}

	return g.finishLocked("add", id, d, batch)
}

// Remove unlinks a stream and redirects everyone who watched or was about to watch it.
func (g *SourceGraph) Remove(id types.StreamID) []Event {
	g.lock.Lock()
	defer g.lock.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil
	}

	d := newDetector(g.nodes)
	batch := &eventBatch{}

	delete(g.nodes, id)
	switch {
	case len(g.nodes) == 0:
		g.unbindLocked(n)
		g.master = types.NoStream

	case id == g.master:
		g.unbindLocked(n)

		g.master = g.lowestIDLocked()
		master := g.nodes[g.master]
		g.setExpectedLocked(master, g.selectSourceLocked(g.master), batch)
		for _, other := range g.sortedIDsLocked() {
			if other != g.master {
				g.setExpectedLocked(g.nodes[other], g.master, batch)
			}
		}

	default:
		for _, looker := range sortedIDs(n.lookers) {
			if ln, ok := g.nodes[looker]; ok {
				g.setExpectedLocked(ln, g.selectSourceLocked(looker), batch)
			}
		}
		for _, looker := range sortedIDs(n.expectedLookers) {
			if ln, ok := g.nodes[looker]; ok {
				g.setExpectedLocked(ln, g.selectSourceLocked(looker), batch)
			}
		}
		g.unbindLocked(n)
	}

	return g.finishLocked("remove", id, d, batch)
}

// SetMaster makes everyone else switch to id.
func (g *SourceGraph) SetMaster(id types.StreamID) []Event {
	g.lock.Lock()
	defer g.lock.Unlock()

	if _, ok := g.nodes[id]; !ok || id == g.master {
		return nil
	}

	d := newDetector(g.nodes)
	batch := &eventBatch{}

	g.master = id
	for _, other := range g.sortedIDsLocked() {
		if other != id {
			g.setExpectedLocked(g.nodes[other], id, batch)
		}
	}

	return g.finishLocked("set master", id, d, batch)
}

// SetPrepared commits every pending switch to id, the source now has a keyframe at its head.
func (g *SourceGraph) SetPrepared(id types.StreamID) []Event {
	g.lock.Lock()
	defer g.lock.Unlock()

	prepared, ok := g.nodes[id]
	if !ok || len(prepared.expectedLookers) == 0 {
		return nil
	}

	d := newDetector(g.nodes)
	batch := &eventBatch{}

	for _, looker := range sortedIDs(prepared.expectedLookers) {
		n := g.nodes[looker]
		previous := n.current

		delete(prepared.expectedLookers, looker)
		n.expected = types.NoStream
		g.setCurrentLocked(n, id)

		if previous != id {
			batch.sourceChanged(looker)
		}
	}

	return g.finishLocked("set prepared", id, d, batch)
}

func (g *SourceGraph) Master() types.StreamID {
	g.lock.RLock()
	defer g.lock.RUnlock()

	return g.master
}

// Source returns the stream id is currently watching, or NoStream.
func (g *SourceGraph) Source(id types.StreamID) types.StreamID {
	g.lock.RLock()
	defer g.lock.RUnlock()

	if n, ok := g.nodes[id]; ok {
		return n.current
	}
	return types.NoStream
}

func (g *SourceGraph) ExpectedSource(id types.StreamID) types.StreamID {
	g.lock.RLock()
	defer g.lock.RUnlock()

	if n, ok := g.nodes[id]; ok {
		return n.expected
	}
	return types.NoStream
}

// IDs returns all members in ascending order.
func (g *SourceGraph) IDs() []types.StreamID {
	g.lock.RLock()
	defer g.lock.RUnlock()

	return g.sortedIDsLocked()
}

func (g *SourceGraph) Contains(id types.StreamID) bool {
	g.lock.RLock()
	defer g.lock.RUnlock()

	_, ok := g.nodes[id]
	return ok
}

func (g *SourceGraph) Len() int {
	g.lock.RLock()
	defer g.lock.RUnlock()

	return len(g.nodes)
}

type NodeSnapshot struct {
	ID              types.StreamID   `json:"id"`
	Current         types.StreamID   `json:"current"`
	Expected        types.StreamID   `json:"expected"`
	Lookers         []types.StreamID `json:"lookers,omitempty"`
	ExpectedLookers []types.StreamID `json:"expectedLookers,omitempty"`
}

type Snapshot struct {
	Master types.StreamID `json:"master"`
	Nodes  []NodeSnapshot `json:"nodes"`
}

func (g *SourceGraph) Snapshot() Snapshot {
	g.lock.RLock()
	defer g.lock.RUnlock()

	s := Snapshot{
		Master: g.master,
		Nodes:  make([]NodeSnapshot, 0, len(g.nodes)),
	}
	for _, id := range g.sortedIDsLocked() {
		n := g.nodes[id]
		s.Nodes = append(s.Nodes, NodeSnapshot{
			ID:              id,
			Current:         n.current,
			Expected:        n.expected,
			Lookers:         sortedIDs(n.lookers),
			ExpectedLookers: sortedIDs(n.expectedLookers),
		})
	}
	return s
}

// -------------------------------------

func (g *SourceGraph) setCurrentLocked(n *node, src types.StreamID) {
	if old, ok := g.nodes[n.current]; ok {
		delete(old.lookers, n.id)
	}
	n.current = src
	if target, ok := g.nodes[src]; ok {
		target.lookers[n.id] = struct{}{}
	}
}

func (g *SourceGraph) setExpectedLocked(n *node, target types.StreamID, batch *eventBatch) {
	targetNode, ok := g.nodes[target]
	if !ok {
		return
	}
	if old, ok := g.nodes[n.expected]; ok {
		delete(old.expectedLookers, n.id)
	}
	n.expected = target
	targetNode.expectedLookers[n.id] = struct{}{}
	batch.prepare(target)
}

// unbindLocked detaches a removed node from every edge it takes part in.
func (g *SourceGraph) unbindLocked(n *node) {
	if src, ok := g.nodes[n.current]; ok {
		delete(src.lookers, n.id)
	}
	if src, ok := g.nodes[n.expected]; ok {
		delete(src.expectedLookers, n.id)
	}
	n.current = types.NoStream
	n.expected = types.NoStream

	for looker := range n.lookers {
		if ln, ok := g.nodes[looker]; ok {
			ln.current = types.NoStream
		}
	}
	for looker := range n.expectedLookers {
		if ln, ok := g.nodes[looker]; ok && ln.expected == n.id {
			ln.expected = types.NoStream
		}
	}
	n.lookers = make(map[types.StreamID]struct{})
	n.expectedLookers = make(map[types.StreamID]struct{})
}

// selectSourceLocked picks a fallback source: the master for everyone else, the lowest other id
// for the master itself.
func (g *SourceGraph) selectSourceLocked(viewer types.StreamID) types.StreamID {
	switch {
	case len(g.nodes) == 0:
		return types.NoStream
	case viewer != g.master:
		return g.master
	case len(g.nodes) == 1:
		return viewer
	}

	for _, id := range g.sortedIDsLocked() {
		if id != viewer {
			return id
		}
	}
	return types.NoStream
}

func (g *SourceGraph) lowestIDLocked() types.StreamID {
	lowest := types.NoStream
	for id := range g.nodes {
		if lowest == types.NoStream || id < lowest {
			lowest = id
		}
	}
	return lowest
}

func (g *SourceGraph) sortedIDsLocked() []types.StreamID {
	ids := make([]types.StreamID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	types.SortStreamIDs(ids)
	return ids
}

func (g *SourceGraph) finishLocked(op string, id types.StreamID, d *detector, batch *eventBatch) []Event {
	d.detect(g.nodes, batch)

	_, isMember := g.nodes[g.master]
	if (len(g.nodes) == 0) != (g.master == types.NoStream) || (len(g.nodes) != 0 && !isMember) {
		g.logger.Errorw("source graph invariant violated", errInvalidMaster, "op", op, "streamID", id, "master", g.master, "members", len(g.nodes))
		if len(g.nodes) == 0 {
			g.master = types.NoStream
		} else {
			g.master = g.lowestIDLocked()
		}
	}

	if len(batch.events) != 0 {
		g.logger.Debugw("source graph updated", "op", op, "streamID", id, "master", g.master, "events", batch.events)
	}
	return batch.events
}
