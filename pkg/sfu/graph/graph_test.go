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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
)

func ev(t EventType, id types.StreamID) Event {
	return Event{Type: t, ID: id}
}

func newTestGraph() *SourceGraph {
	return NewSourceGraph(SourceGraphParams{})
}

func TestAddTwoAndPrepare(t *testing.T) {
	g := newTestGraph()

	require.Equal(t, []Event{
		ev(EventTypePrepare, 1),
		ev(EventTypeEnabled, 1),
	}, g.Add(1))
	require.Equal(t, types.StreamID(1), g.Master())
	require.Equal(t, types.StreamID(1), g.ExpectedSource(1))
	require.Equal(t, types.NoStream, g.Source(1))

	require.Equal(t, []Event{
		ev(EventTypePrepare, 2),
		ev(EventTypePrepare, 1),
		ev(EventTypeEnabled, 2),
	}, g.Add(2))
	require.Equal(t, types.StreamID(2), g.ExpectedSource(1))
	require.Equal(t, types.StreamID(1), g.ExpectedSource(2))

	require.Equal(t, []Event{
		ev(EventTypeSourceChanged, 2),
		ev(EventTypeHasLooker, 1),
	}, g.SetPrepared(1))

	require.Equal(t, []Event{
		ev(EventTypeSourceChanged, 1),
		ev(EventTypeHasLooker, 2),
	}, g.SetPrepared(2))

	require.Equal(t, types.StreamID(1), g.Master())
	require.Equal(t, types.StreamID(2), g.Source(1))
	require.Equal(t, types.StreamID(1), g.Source(2))
	require.Equal(t, types.NoStream, g.ExpectedSource(1))
	require.Equal(t, types.NoStream, g.ExpectedSource(2))

	// nothing pending any more
	require.Empty(t, g.SetPrepared(1))
	requireConsistent(t, g)
}

func TestAddDuplicateAndUnknown(t *testing.T) {
	g := newTestGraph()
	g.Add(1)

	require.Empty(t, g.Add(1))
	require.Equal(t, 1, g.Len())
	require.Empty(t, g.Remove(9))
	require.Empty(t, g.SetMaster(9))
	require.Empty(t, g.SetPrepared(9))
	require.Empty(t, g.SetMaster(1))
	require.Equal(t, types.NoStream, g.Source(9))
	require.Equal(t, types.NoStream, g.ExpectedSource(9))
	require.False(t, g.Contains(9))
	require.True(t, g.Contains(1))
}

func TestAddThirdWatchesMaster(t *testing.T) {
	g := newTestGraph()
	g.Add(1)
	g.Add(2)
	g.SetPrepared(1)
	g.SetPrepared(2)

	require.Equal(t, []Event{ev(EventTypePrepare, 1)}, g.Add(3))
	require.Equal(t, types.StreamID(1), g.ExpectedSource(3))

	require.Equal(t, []Event{ev(EventTypeSourceChanged, 3)}, g.SetPrepared(1))
	require.Equal(t, types.StreamID(1), g.Source(3))
	requireConsistent(t, g)
}

func TestRemoveMaster(t *testing.T) {
	g := newTestGraph()
	for _, id := range []types.StreamID{1, 2, 3} {
		g.Add(id)
	}
	g.SetPrepared(1)
	g.SetPrepared(2)

	events := g.Remove(1)
	require.Equal(t, types.StreamID(2), g.Master())
	require.Equal(t, types.StreamID(3), g.ExpectedSource(2))
	require.Equal(t, types.StreamID(2), g.ExpectedSource(3))
	require.Contains(t, events, ev(EventTypePrepare, 3))
	require.Contains(t, events, ev(EventTypePrepare, 2))

	// node 3 watched node 1, it has no current source until 2 is prepared
	require.Equal(t, types.NoStream, g.Source(3))
	require.Contains(t, events, ev(EventTypeNoLooker, 2))

	g.SetPrepared(2)
	g.SetPrepared(3)
	require.Equal(t, types.StreamID(3), g.Source(2))
	require.Equal(t, types.StreamID(2), g.Source(3))
	requireConsistent(t, g)
}

func TestRemoveFollower(t *testing.T) {
	g := newTestGraph()
	for _, id := range []types.StreamID{1, 2, 3, 4} {
		g.Add(id)
	}
	g.SetPrepared(1)
	g.SetPrepared(2)
	// 1 watches 2, the rest watch 1
	require.Equal(t, types.StreamID(2), g.Source(1))

	events := g.Remove(2)
	require.Equal(t, types.StreamID(1), g.Master())

	// the master falls back to the lowest other node
	require.Equal(t, types.StreamID(3), g.ExpectedSource(1))
	require.Equal(t, types.NoStream, g.Source(1))
	require.Equal(t, []Event{
		ev(EventTypePrepare, 3),
		ev(EventTypeEnabled, 3),
		ev(EventTypeDisabled, 2),
	}, events)
	requireConsistent(t, g)
}

func TestRemoveLast(t *testing.T) {
	g := newTestGraph()
	g.Add(1)
	g.SetPrepared(1)

	require.Equal(t, []Event{ev(EventTypeDisabled, 1)}, g.Remove(1))
	require.Equal(t, types.NoStream, g.Master())
	require.Equal(t, 0, g.Len())
}

func TestSetMaster(t *testing.T) {
	g := newTestGraph()
	for _, id := range []types.StreamID{1, 2, 3} {
		g.Add(id)
	}
	g.SetPrepared(1)
	g.SetPrepared(2)

	events := g.SetMaster(3)
	require.Equal(t, types.StreamID(3), g.Master())

	prepares := 0
	for _, e := range events {
		if e.Type == EventTypePrepare {
			prepares++
			require.Equal(t, types.StreamID(3), e.ID)
		}
	}
	require.Equal(t, 1, prepares)
	require.Equal(t, types.StreamID(3), g.ExpectedSource(1))
	require.Equal(t, types.StreamID(3), g.ExpectedSource(2))
	require.Equal(t, types.NoStream, g.ExpectedSource(3))

	sourceChanged := g.SetPrepared(3)
	require.Equal(t, []Event{
		ev(EventTypeSourceChanged, 1),
		ev(EventTypeSourceChanged, 2),
		ev(EventTypeDisabled, 2),
		ev(EventTypeHasLooker, 3),
		ev(EventTypeNoLooker, 2),
	}, sourceChanged)
	// the new master keeps watching its old source
	require.Equal(t, types.StreamID(1), g.Source(3))
	requireConsistent(t, g)
}

func TestSnapshot(t *testing.T) {
	g := newTestGraph()
	g.Add(1)
	g.Add(2)
	g.SetPrepared(1)

	s := g.Snapshot()
	require.Equal(t, types.StreamID(1), s.Master)
	require.Equal(t, []NodeSnapshot{
		{ID: 1, Current: types.NoStream, Expected: 2, Lookers: []types.StreamID{2}},
		{ID: 2, Current: 1, Expected: types.NoStream, ExpectedLookers: []types.StreamID{1}},
	}, s.Nodes)
	require.Equal(t, []types.StreamID{1, 2}, g.IDs())
}

func TestEventString(t *testing.T) {
	require.Equal(t, "Prepare(3)", ev(EventTypePrepare, 3).String())
	require.Equal(t, "SourceChanged(none)", ev(EventTypeSourceChanged, types.NoStream).String())
	require.Equal(t, "EventType(42)", EventType(42).String())
}

func TestAddsResolveToMaster(t *testing.T) {
	for n := 3; n <= 10; n++ {
		g := newTestGraph()
		for id := 1; id <= n; id++ {
			events := g.Add(types.StreamID(id))
			if id >= 3 {
				require.Equal(t, 1, countType(events, EventTypePrepare))
			}
		}
		for _, id := range g.IDs() {
			g.SetPrepared(id)
		}

		master := g.Master()
		require.Equal(t, types.StreamID(1), master)
		for _, id := range g.IDs() {
			if id == master {
				require.Equal(t, types.StreamID(2), g.Source(id))
			} else {
				require.Equal(t, master, g.Source(id))
			}
			require.Equal(t, types.NoStream, g.ExpectedSource(id))
		}
		requireConsistent(t, g)
	}
}

func TestRandomMutations(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	g := newTestGraph()

	for i := 0; i < 5000; i++ {
		id := types.StreamID(r.Intn(8) + 1)
		var events []Event

		switch op := r.Intn(10); {
		case op < 3:
			events = g.Add(id)

		case op < 5:
			master := g.Master()
			before := g.Snapshot()
			events = g.Remove(id)
			if id != master {
				requireFollowerFallback(t, g, before, id)
			}

		case op < 6:
			events = g.SetMaster(id)

		default:
			events = g.SetPrepared(id)
		}

		requireOrdered(t, events)
		requireConsistent(t, g)
	}
}

// -------------------------------------

func countType(events []Event, t EventType) int {
	count := 0
	for _, e := range events {
		if e.Type == t {
			count++
		}
	}
	return count
}

func requireOrdered(t *testing.T, events []Event) {
	lifecycleSeen := false
	for _, e := range events {
		switch e.Type {
		case EventTypePrepare, EventTypeSourceChanged:
			require.False(t, lifecycleSeen, "edge event after lifecycle event in %v", events)
		default:
			lifecycleSeen = true
		}
	}
}

func requireFollowerFallback(t *testing.T, g *SourceGraph, before Snapshot, removed types.StreamID) {
	master := g.Master()
	for _, n := range before.Nodes {
		if n.ID == removed || (n.Current != removed && n.Expected != removed) {
			continue
		}
		if n.ID != master {
			require.Equal(t, master, g.ExpectedSource(n.ID))
			continue
		}
		// the master moves to the lowest other node, or itself when alone
		expected := master
		for _, id := range g.IDs() {
			if id != master {
				expected = id
				break
			}
		}
		require.Equal(t, expected, g.ExpectedSource(n.ID))
	}
}

func requireConsistent(t *testing.T, g *SourceGraph) {
	s := g.Snapshot()
	if len(s.Nodes) == 0 {
		require.Equal(t, types.NoStream, s.Master)
		return
	}

	byID := make(map[types.StreamID]NodeSnapshot, len(s.Nodes))
	for _, n := range s.Nodes {
		byID[n.ID] = n
	}
	_, ok := byID[s.Master]
	require.True(t, ok, "master %s is not a member", s.Master)

	for _, n := range s.Nodes {
		if n.Current != types.NoStream {
			src, ok := byID[n.Current]
			require.True(t, ok)
			require.Contains(t, src.Lookers, n.ID)
		}
		if n.Expected != types.NoStream {
			src, ok := byID[n.Expected]
			require.True(t, ok)
			require.Contains(t, src.ExpectedLookers, n.ID)
		}
		for _, looker := range n.Lookers {
			require.Equal(t, n.ID, byID[looker].Current)
		}
		for _, looker := range n.ExpectedLookers {
			require.Equal(t, n.ID, byID[looker].Expected)
		}
	}
}
