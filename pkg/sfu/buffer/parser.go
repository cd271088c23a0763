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
	"fmt"

	"github.com/pion/rtp"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/mime"
)

const (
	rtpHeaderSize = 12

	DefaultMaxPacketSize = 1500
)

var DefaultPayloadTypes = map[uint8]mime.MimeType{
	45:  mime.MimeTypeAV1,
	96:  mime.MimeTypeVP8,
	98:  mime.MimeTypeVP9,
	100: mime.MimeTypeVP8,
	102: mime.MimeTypeH264,
}

type RTPFrameParserParams struct {
	PayloadTypes  map[uint8]mime.MimeType
	MaxPacketSize int
}

// RTPFrameParser parses RTP packets and detects keyframes of the codec mapped to the payload type.
type RTPFrameParser struct {
	payloadTypes  map[uint8]mime.MimeType
	maxPacketSize int
}

func NewRTPFrameParser(params RTPFrameParserParams) *RTPFrameParser {
	p := &RTPFrameParser{
		payloadTypes:  params.PayloadTypes,
		maxPacketSize: params.MaxPacketSize,
	}
	if len(p.payloadTypes) == 0 {
		p.payloadTypes = DefaultPayloadTypes
	}
	if p.maxPacketSize <= 0 {
		p.maxPacketSize = DefaultMaxPacketSize
	}
	return p
}

func (p *RTPFrameParser) Parse(raw []byte) (*Frame, error) {
	if len(raw) < rtpHeaderSize {
		return nil, ErrPacketTooShort
	}
	if len(raw) > p.maxPacketSize {
		return nil, ErrPacketTooLarge
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPacketTooShort, err)
	}
	if len(pkt.Payload) == 0 {
		return nil, ErrPacketTooShort
	}

	mimeType, ok := p.payloadTypes[pkt.PayloadType]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPayloadType, pkt.PayloadType)
	}

	// the caller may reuse raw
	payload := make([]byte, len(pkt.Payload))
	copy(payload, pkt.Payload)

	return &Frame{
		SequenceNumber: pkt.SequenceNumber,
		Timestamp:      pkt.Timestamp,
		Marker:         pkt.Marker,
		PayloadType:    pkt.PayloadType,
		SSRC:           pkt.SSRC,
		KeyFrame:       IsKeyFrame(mimeType, payload),
		Payload:        payload,
		RawSize:        len(raw),
	}, nil
}
