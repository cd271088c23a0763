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

package buffer

import (
	"sync"

	"github.com/livekit/protocol/logger"
	"go.uber.org/atomic"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/utils"
	"github.com/orbit-rtc/orbit-forwarder/pkg/telemetry/prometheus"
)

const (
	DefaultMaxFrames = 4096

	dropReasonParse      = "parse"
	dropReasonDuplicate  = "duplicate"
	dropReasonLate       = "late"
	dropReasonNoKeyFrame = "no_keyframe"
	dropReasonOverflow   = "overflow"
)

type SourceBufferParams struct {
	StreamID types.StreamID
	Parser   FrameParser
	// MaxFrames bounds the store. With lookers the oldest frame is evicted, without lookers new
	// frames are refused.
	MaxFrames int
	Logger    logger.Logger
}

type SourceBufferStats struct {
	Frames         int    `json:"frames"`
	Enabled        bool   `json:"enabled"`
	HasLooker      bool   `json:"hasLooker"`
	HeadIsKeyFrame bool   `json:"headIsKeyFrame"`
	Accepted       uint64 `json:"accepted"`
	Dropped        uint64 `json:"dropped"`
}

// SourceBuffer stores one publisher's frames in sequence order and gates followers on keyframes.
//
// Without lookers only a run starting at a keyframe is kept, so a new follower always starts
// decoding at a keyframe. With lookers every frame is kept in order until popped.
type SourceBuffer struct {
	params SourceBufferParams
	logger logger.Logger

	lock          sync.Mutex
	frames        []*Frame
	enabled       bool
	hasLooker     bool
	prepared      bool
	lastPopped    uint16
	hasLastPopped bool
	onPrepared    func(id types.StreamID)

	lastSSRC atomic.Uint32
	accepted atomic.Uint64
	dropped  atomic.Uint64
}

func NewSourceBuffer(params SourceBufferParams) *SourceBuffer {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.MaxFrames <= 0 {
		params.MaxFrames = DefaultMaxFrames
	}
	if params.Parser == nil {
		params.Parser = NewRTPFrameParser(RTPFrameParserParams{})
	}
	return &SourceBuffer{
		params: params,
		logger: params.Logger.WithValues("streamID", params.StreamID),
	}
}

func (s *SourceBuffer) StreamID() types.StreamID {
	return s.params.StreamID
}

// OnPrepared sets the callback fired when the head of the buffer becomes a keyframe. It is invoked
// without the buffer lock held, on the goroutine that caused the transition.
func (s *SourceBuffer) OnPrepared(fn func(id types.StreamID)) {
	s.lock.Lock()
	s.onPrepared = fn
	s.lock.Unlock()
}

// Push parses raw and admits the frame. The SSRC is recorded even while disabled so keyframe
// requests can address the publisher before anyone watches it.
func (s *SourceBuffer) Push(raw []byte) {
	frame, err := s.params.Parser.Parse(raw)
	if err != nil {
		s.drop(dropReasonParse, "error", err, "size", len(raw))
		return
	}
	s.lastSSRC.Store(frame.SSRC)
	s.PushFrame(frame)
}

func (s *SourceBuffer) LastSSRC() uint32 {
	return s.lastSSRC.Load()
}

func (s *SourceBuffer) PushFrame(frame *Frame) {
	s.lock.Lock()
	if !s.enabled {
		s.lock.Unlock()
		return
	}

	var reason string
	if s.hasLooker {
		reason = s.admitWithLookerLocked(frame)
	} else {
		reason = s.admitWithoutLookerLocked(frame)
	}
	onPrepared := s.checkPreparedLocked()
	s.lock.Unlock()

	if reason != "" {
		s.drop(reason, "sn", frame.SequenceNumber, "keyFrame", frame.KeyFrame)
	} else {
		s.accepted.Inc()
	}
	if onPrepared != nil {
		onPrepared(s.params.StreamID)
	}
}

func (s *SourceBuffer) admitWithLookerLocked(frame *Frame) string {
	if s.hasLastPopped && !utils.IsNewer(frame.SequenceNumber, s.lastPopped) {
		return dropReasonLate
	}

	pos, duplicate := s.findLocked(frame.SequenceNumber)
	if duplicate {
		return dropReasonDuplicate
	}

	if len(s.frames) >= s.params.MaxFrames {
		if pos == 0 {
			return dropReasonOverflow
		}
		s.frames = s.frames[1:]
		pos--
		s.dropped.Inc()
		prometheus.IncrementDropped(dropReasonOverflow)
	}
	s.insertLocked(pos, frame)
	return ""
}

func (s *SourceBuffer) admitWithoutLookerLocked(frame *Frame) string {
	pos, duplicate := s.findLocked(frame.SequenceNumber)
	if duplicate {
		return dropReasonDuplicate
	}

	if frame.KeyFrame {
		// a keyframe starts a new run
		s.frames = append(s.frames[:0], frame)
		s.prepared = false
		s.hasLastPopped = false
		return ""
	}

	if !s.headIsKeyFrameLocked() || !utils.IsNewer(frame.SequenceNumber, s.frames[0].SequenceNumber) {
		return dropReasonNoKeyFrame
	}
	if len(s.frames) >= s.params.MaxFrames {
		return dropReasonOverflow
	}
	s.insertLocked(pos, frame)
	return ""
}

// findLocked returns the insert position of sn and whether sn is already stored.
func (s *SourceBuffer) findLocked(sn uint16) (int, bool) {
	pos := len(s.frames)
	for pos > 0 && utils.IsNewer(s.frames[pos-1].SequenceNumber, sn) {
		pos--
	}
	return pos, pos > 0 && s.frames[pos-1].SequenceNumber == sn
}

func (s *SourceBuffer) insertLocked(pos int, frame *Frame) {
	s.frames = append(s.frames, nil)
	copy(s.frames[pos+1:], s.frames[pos:])
	s.frames[pos] = frame
}

// checkPreparedLocked tracks the head keyframe state and returns the callback to fire on a rising edge.
func (s *SourceBuffer) checkPreparedLocked() func(types.StreamID) {
	if !s.headIsKeyFrameLocked() {
		s.prepared = false
		return nil
	}
	if s.prepared {
		return nil
	}
	s.prepared = true
	return s.onPrepared
}

func (s *SourceBuffer) Top() *Frame {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.enabled || len(s.frames) == 0 {
		return nil
	}
	return s.frames[0]
}

func (s *SourceBuffer) Pop() *Frame {
	s.lock.Lock()
	if !s.enabled || len(s.frames) == 0 {
		s.lock.Unlock()
		return nil
	}

	frame := s.frames[0]
	s.frames[0] = nil
	s.frames = s.frames[1:]
	s.lastPopped = frame.SequenceNumber
	s.hasLastPopped = true
	onPrepared := s.checkPreparedLocked()
	s.lock.Unlock()

	if onPrepared != nil {
		onPrepared(s.params.StreamID)
	}
	return frame
}

func (s *SourceBuffer) Enable() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.enabled {
		s.logger.Debugw("enabling source buffer")
	}
	s.enabled = true
}

func (s *SourceBuffer) Disable() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.enabled {
		return
	}
	s.logger.Debugw("disabling source buffer", "frames", len(s.frames))
	s.enabled = false
	s.clearLocked()
}

func (s *SourceBuffer) Enabled() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.enabled
}

// SetHasLooker switches the admission policy. Leaving looker mode keeps the stored run only when
// it starts at a keyframe.
func (s *SourceBuffer) SetHasLooker(hasLooker bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.hasLooker == hasLooker {
		return
	}
	s.hasLooker = hasLooker
	s.logger.Debugw("setting has looker", "hasLooker", hasLooker, "frames", len(s.frames))
	if hasLooker {
		return
	}

	s.hasLastPopped = false
	if !s.headIsKeyFrameLocked() {
		s.clearLocked()
	}
}

func (s *SourceBuffer) HasLooker() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.hasLooker
}

func (s *SourceBuffer) HeadIsKeyFrame() bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.headIsKeyFrameLocked()
}

func (s *SourceBuffer) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.frames)
}

func (s *SourceBuffer) Stats() SourceBufferStats {
	s.lock.Lock()
	defer s.lock.Unlock()

	return SourceBufferStats{
		Frames:         len(s.frames),
		Enabled:        s.enabled,
		HasLooker:      s.hasLooker,
		HeadIsKeyFrame: s.headIsKeyFrameLocked(),
		Accepted:       s.accepted.Load(),
		Dropped:        s.dropped.Load(),
	}
}

func (s *SourceBuffer) headIsKeyFrameLocked() bool {
	return len(s.frames) != 0 && s.frames[0].KeyFrame
}

func (s *SourceBuffer) clearLocked() {
	s.frames = nil
	s.prepared = false
	s.hasLastPopped = false
}

func (s *SourceBuffer) drop(reason string, keysAndValues ...interface{}) {
	s.dropped.Inc()
	prometheus.IncrementDropped(reason)
	s.logger.Debugw("dropping packet", append([]interface{}{"reason", reason}, keysAndValues...)...)
}
