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
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/utils"
)

const (
	DefaultSeqStep       = 1
	DefaultTimestampStep = 2880
)

// SwitchContext splices the sources a viewer watches into one continuous RTP stream.
//
// Every switch anchors the new source at (BaseSeq, BaseTS) and maps it onto the outgoing stream
// right after the last emitted packet, advanced by the configured steps:
//
//	out = Last + (in - Base)
type SwitchContext struct {
	BaseSeq uint16
	BaseTS  uint32
	LastSeq uint16
	LastTS  uint32
	Seq     uint16
	TS      uint32

	anchored bool
	emitted  *utils.WrapAround[uint16, uint32]
}

type SwitchContextState struct {
	Seq         uint16 `json:"seq"`
	TS          uint32 `json:"ts"`
	Anchored    bool   `json:"anchored"`
	ExtendedSeq uint32 `json:"extendedSeq"`
}

func NewSwitchContext() *SwitchContext {
	return &SwitchContext{
		emitted: utils.NewWrapAround[uint16, uint32](),
	}
}

// Reset starts a new splice. When the new source has nothing buffered yet the context anchors on
// the first frame it rewrites.
func (s *SwitchContext) Reset(top *buffer.Frame, seqStep uint16, tsStep uint32) {
	s.LastSeq = s.Seq + seqStep
	s.LastTS = s.TS + tsStep
	if top == nil {
		s.anchored = false
		return
	}

	s.BaseSeq = top.SequenceNumber
	s.BaseTS = top.Timestamp
	s.anchored = true
}

// Rewrite maps frame onto the outgoing stream. It reports false when the result would move the
// outgoing sequence backwards, in which case nothing is updated.
func (s *SwitchContext) Rewrite(frame *buffer.Frame) (uint16, uint32, bool) {
	if !s.anchored {
		s.BaseSeq = frame.SequenceNumber
		s.BaseTS = frame.Timestamp
		s.anchored = true
	}

	seq := s.LastSeq + (frame.SequenceNumber - s.BaseSeq)
	ts := s.LastTS + (frame.Timestamp - s.BaseTS)
	if s.emitted.IsInitialized() && !utils.IsNewer(seq, s.emitted.GetHighest()) {
		return seq, ts, false
	}

	s.emitted.Update(seq)
	s.Seq = seq
	s.TS = ts
	return seq, ts, true
}

func (s *SwitchContext) Anchored() bool {
	return s.anchored
}

func (s *SwitchContext) State() SwitchContextState {
	state := SwitchContextState{
		Seq:      s.Seq,
		TS:       s.TS,
		Anchored: s.anchored,
	}
	if s.emitted.IsInitialized() {
		state.ExtendedSeq = s.emitted.GetExtendedHighest()
	}
	return state
}
