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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/mime"
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/testutils"
)

func TestRTPFrameParser(t *testing.T) {
	p := NewRTPFrameParser(RTPFrameParserParams{})

	_, raw, err := testutils.GetTestPacket(&testutils.TestPacketParams{
		SetMarker:      true,
		IsKeyFrame:     true,
		SequenceNumber: 4242,
		Timestamp:      90000,
		SSRC:           0xabcd,
	})
	require.NoError(t, err)

	frame, err := p.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, uint16(4242), frame.SequenceNumber)
	require.Equal(t, uint32(90000), frame.Timestamp)
	require.Equal(t, uint32(0xabcd), frame.SSRC)
	require.Equal(t, uint8(testutils.TestVP8PayloadType), frame.PayloadType)
	require.True(t, frame.Marker)
	require.True(t, frame.KeyFrame)
	require.Equal(t, len(raw), frame.RawSize)
	require.Equal(t, testutils.TestVP8KeyFramePayload, frame.Payload)

	// the payload does not alias the input
	raw[len(raw)-1] ^= 0xff
	require.Equal(t, testutils.TestVP8KeyFramePayload, frame.Payload)
}

func TestRTPFrameParserInvalid(t *testing.T) {
	_, valid, err := testutils.GetTestPacket(&testutils.TestPacketParams{SequenceNumber: 1})
	require.NoError(t, err)

	unknownPT := append([]byte(nil), valid...)
	unknownPT[1] = 111

	testCases := []struct {
		name     string
		maxSize  int
		raw      []byte
		expected error
	}{
		{name: "empty", raw: nil, expected: ErrPacketTooShort},
		{name: "short header", raw: valid[:11], expected: ErrPacketTooShort},
		{name: "header only", raw: valid[:12], expected: ErrPacketTooShort},
		{name: "too large", maxSize: 14, raw: valid, expected: ErrPacketTooLarge},
		{name: "unknown payload type", raw: unknownPT, expected: ErrUnknownPayloadType},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewRTPFrameParser(RTPFrameParserParams{MaxPacketSize: tc.maxSize})
			frame, err := p.Parse(tc.raw)
			require.ErrorIs(t, err, tc.expected)
			require.Nil(t, frame)
		})
	}
}

func TestRTPFrameParserCustomPayloadTypes(t *testing.T) {
	p := NewRTPFrameParser(RTPFrameParserParams{
		PayloadTypes: map[uint8]mime.MimeType{111: mime.MimeTypeVP8},
	})

	_, raw, err := testutils.GetTestPacket(&testutils.TestPacketParams{
		PayloadType: 111,
		IsKeyFrame:  true,
	})
	require.NoError(t, err)
	frame, err := p.Parse(raw)
	require.NoError(t, err)
	require.True(t, frame.KeyFrame)

	// defaults no longer apply
	_, raw, err = testutils.GetTestPacket(&testutils.TestPacketParams{})
	require.NoError(t, err)
	_, err = p.Parse(raw)
	require.ErrorIs(t, err, ErrUnknownPayloadType)
}

func TestFrameString(t *testing.T) {
	var f *Frame
	require.Equal(t, "<nil>", f.String())

	f = &Frame{SequenceNumber: 3, Timestamp: 9, PayloadType: 96, KeyFrame: true, Payload: []byte{1, 2}}
	require.Equal(t, "Frame{sn: 3, ts: 9, pt: 96, key: true, marker: false, size: 2}", f.String())
}
