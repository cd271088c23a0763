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

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/livekit/protocol/logger"
	"github.com/pion/rtcp"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
	"github.com/orbit-rtc/orbit-forwarder/pkg/telemetry/prometheus"
)

const (
	DefaultFIRHistorySize = 1024
)

type KeyframeRequesterParams struct {
	Listener   ForwardListener
	SenderSSRC uint32
	// HistorySize bounds how many streams keep their FIR command sequence number.
	HistorySize int
	Logger      logger.Logger
}

type firState struct {
	seq       uint8
	mediaSSRC uint32
}

// KeyframeRequester asks publishers for a keyframe with a FIR (RFC 5104) followed by a PLI.
type KeyframeRequester struct {
	params KeyframeRequesterParams
	logger logger.Logger

	lock    sync.Mutex
	history *lru.Cache[types.StreamID, firState]
}

func NewKeyframeRequester(params KeyframeRequesterParams) (*KeyframeRequester, error) {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.HistorySize <= 0 {
		params.HistorySize = DefaultFIRHistorySize
	}

	history, err := lru.New[types.StreamID, firState](params.HistorySize)
	if err != nil {
		return nil, err
	}

	return &KeyframeRequester{
		params:  params,
		logger:  params.Logger,
		history: history,
	}, nil
}

// SetMediaSSRC records the SSRC the publisher of id sends with. Zero leaves it to the transport.
func (r *KeyframeRequester) SetMediaSSRC(id types.StreamID, ssrc uint32) {
	r.lock.Lock()
	defer r.lock.Unlock()

	state, _ := r.history.Get(id)
	state.mediaSSRC = ssrc
	r.history.Add(id, state)
}

func (r *KeyframeRequester) SendFir(id types.StreamID) {
	r.lock.Lock()
	state, _ := r.history.Get(id)
	state.seq++
	r.history.Add(id, state)
	r.lock.Unlock()

	fir := &rtcp.FullIntraRequest{
		SenderSSRC: r.params.SenderSSRC,
		MediaSSRC:  state.mediaSSRC,
		FIR: []rtcp.FIREntry{
			{
				SSRC:           state.mediaSSRC,
				SequenceNumber: state.seq,
			},
		},
	}
	pli := &rtcp.PictureLossIndication{
		SenderSSRC: r.params.SenderSSRC,
		MediaSSRC:  state.mediaSSRC,
	}

	r.logger.Debugw("requesting keyframe", "streamID", id, "firSeq", state.seq, "mediaSSRC", state.mediaSSRC)
	prometheus.IncrementRTCP(prometheus.Outgoing, 1, 1)

	if r.params.Listener == nil {
		return
	}
	r.params.Listener.OnRelayRTCP(id, fir)
	r.params.Listener.OnRelayRTCP(id, pli)
}

// FirSequence returns the last FIR command sequence number sent to id.
func (r *KeyframeRequester) FirSequence(id types.StreamID) (uint8, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	state, ok := r.history.Peek(id)
	return state.seq, ok
}
