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
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/livekit/protocol/logger"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
	"github.com/orbit-rtc/orbit-forwarder/pkg/telemetry/prometheus"
)

const (
	DefaultSpeakerHold     = 2 * time.Second
	DefaultSpeakerDebounce = 100 * time.Millisecond

	speakerSwitchApplied = "applied"
	speakerSwitchHeld    = "held"
)

type SpeakerEngine interface {
	ChangeToSpeaker(id types.StreamID)
	Master() types.StreamID
}

type SpeakerSwitcherParams struct {
	Engine SpeakerEngine
	// Hold is the minimum time between two applied switches. Proposals inside it are dropped.
	Hold     time.Duration
	Debounce time.Duration
	// Now replaces the wall clock. When set, proposals settle only when the owner calls Poll.
	Now    func() time.Time
	Logger logger.Logger
}

// SpeakerSwitcher gates speaker proposals coming from voice activity. Bursts are collapsed to the
// last proposal, which is applied only once the previous switch has been held long enough.
type SpeakerSwitcher struct {
	params   SpeakerSwitcherParams
	logger   logger.Logger
	now      func() time.Time
	debounce func(f func())

	lock       sync.Mutex
	proposed   types.StreamID
	proposedAt time.Time
	pending    bool
	speaker    types.StreamID
	lastSwitch time.Time
	switched   bool
	closed     bool
}

func NewSpeakerSwitcher(params SpeakerSwitcherParams) *SpeakerSwitcher {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Hold <= 0 {
		params.Hold = DefaultSpeakerHold
	}
	if params.Debounce <= 0 {
		params.Debounce = DefaultSpeakerDebounce
	}
	s := &SpeakerSwitcher{
		params:   params,
		logger:   params.Logger,
		now:      params.Now,
		proposed: types.NoStream,
		speaker:  types.NoStream,
	}
	if s.now == nil {
		s.now = time.Now
		s.debounce = debounce.New(params.Debounce)
	}
	return s
}

func (s *SpeakerSwitcher) Propose(id types.StreamID) {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return
	}
	s.proposed = id
	s.proposedAt = s.now()
	s.pending = true
	s.lock.Unlock()

	if s.debounce != nil {
		s.debounce(s.settle)
	}
}

// Poll applies the pending proposal once it has been quiet for the debounce period.
func (s *SpeakerSwitcher) Poll() {
	s.lock.Lock()
	due := s.pending && s.now().Sub(s.proposedAt) >= s.params.Debounce
	s.lock.Unlock()

	if due {
		s.settle()
	}
}

// Speaker returns the last speaker applied by the switcher, or NoStream.
func (s *SpeakerSwitcher) Speaker() types.StreamID {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.speaker
}

// Close drops a pending proposal.
func (s *SpeakerSwitcher) Close() {
	s.lock.Lock()
	s.closed = true
	s.pending = false
	s.lock.Unlock()

	if s.debounce != nil {
		s.debounce(func() {})
	}
}

func (s *SpeakerSwitcher) settle() {
	// the master may also change through direct calls on the engine
	master := s.params.Engine.Master()

	s.lock.Lock()
	if s.closed || !s.pending {
		s.lock.Unlock()
		return
	}
	id := s.proposed
	s.pending = false
	if id == master {
		s.lock.Unlock()
		return
	}
	now := s.now()
	if since := now.Sub(s.lastSwitch); s.switched && since < s.params.Hold {
		s.lock.Unlock()
		s.logger.Debugw("holding speaker", "streamID", id, "master", master, "since", since)
		prometheus.IncrementSpeakerSwitch(speakerSwitchHeld)
		return
	}
	s.speaker = id
	s.lastSwitch = now
	s.switched = true
	s.lock.Unlock()

	prometheus.IncrementSpeakerSwitch(speakerSwitchApplied)
	s.params.Engine.ChangeToSpeaker(id)
}
