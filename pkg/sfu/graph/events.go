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
	"fmt"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
)

type EventType int

const (
	// EventTypePrepare asks the source ID to produce a keyframe for its new expected lookers.
	EventTypePrepare EventType = iota
	// EventTypeSourceChanged reports that viewer ID now watches a different source.
	EventTypeSourceChanged
	EventTypeEnabled
	EventTypeDisabled
	EventTypeHasLooker
	EventTypeNoLooker
)

func (e EventType) String() string {
	switch e {
	case EventTypePrepare:
		return "Prepare"
	case EventTypeSourceChanged:
		return "SourceChanged"
	case EventTypeEnabled:
		return "Enabled"
	case EventTypeDisabled:
		return "Disabled"
	case EventTypeHasLooker:
		return "HasLooker"
	case EventTypeNoLooker:
		return "NoLooker"
	default:
		return fmt.Sprintf("EventType(%d)", int(e))
	}
}

type Event struct {
	Type EventType
	ID   types.StreamID
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%s)", e.Type, e.ID)
}

// eventBatch collects the events of one mutation. Prepares are reported once per target.
type eventBatch struct {
	events   []Event
	prepared map[types.StreamID]struct{}
}

func (b *eventBatch) prepare(id types.StreamID) {
	if b.prepared == nil {
		b.prepared = make(map[types.StreamID]struct{})
	}
	if _, ok := b.prepared[id]; ok {
		return
	}
	b.prepared[id] = struct{}{}
	b.events = append(b.events, Event{Type: EventTypePrepare, ID: id})
}

func (b *eventBatch) sourceChanged(id types.StreamID) {
	b.events = append(b.events, Event{Type: EventTypeSourceChanged, ID: id})
}

func (b *eventBatch) add(t EventType, id types.StreamID) {
	b.events = append(b.events, Event{Type: t, ID: id})
}
