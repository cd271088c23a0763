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

package testutils

import (
	"github.com/pion/rtp"
)

// -----------------------------------------------------------

// VP8 payload descriptors with a keyframe and an interframe payload header behind them.
var (
	TestVP8KeyFramePayload   = []byte{0x10, 0x00, 0x9d, 0x01, 0x2a}
	TestVP8InterFramePayload = []byte{0x10, 0x01, 0x00, 0x00}
)

const TestVP8PayloadType = 96

// -----------------------------------------------------------

type TestPacketParams struct {
	SetMarker      bool
	IsKeyFrame     bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	Payload        []byte
}

// -----------------------------------------------------------

func GetTestPacket(params *TestPacketParams) (*rtp.Packet, []byte, error) {
	payloadType := params.PayloadType
	if payloadType == 0 {
		payloadType = TestVP8PayloadType
	}
	payload := params.Payload
	if payload == nil {
		payload = TestVP8InterFramePayload
		if params.IsKeyFrame {
			payload = TestVP8KeyFramePayload
		}
	}

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         params.SetMarker,
			PayloadType:    payloadType,
			SequenceNumber: params.SequenceNumber,
			Timestamp:      params.Timestamp,
			SSRC:           params.SSRC,
		},
		Payload: payload,
	}

	raw, err := packet.Marshal()
	if err != nil {
		return nil, nil, err
	}
	return packet, raw, nil
}

// --------------------------------------

// TestPublisher emits VP8 frames of one publisher with consecutive sequence numbers.
type TestPublisher struct {
	SSRC          uint32
	NextSN        uint16
	NextTS        uint32
	TimestampStep uint32
}

func (p *TestPublisher) Next(keyFrame bool) ([]byte, error) {
	_, raw, err := GetTestPacket(&TestPacketParams{
		SetMarker:      true,
		IsKeyFrame:     keyFrame,
		SequenceNumber: p.NextSN,
		Timestamp:      p.NextTS,
		SSRC:           p.SSRC,
	})
	if err != nil {
		return nil, err
	}

	step := p.TimestampStep
	if step == 0 {
		step = 3000
	}
	p.NextSN++
	p.NextTS += step
	return raw, nil
}
