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
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/mime"
)

// IsKeyFrame dispatches keyframe detection on the codec of the payload type.
func IsKeyFrame(mimeType mime.MimeType, payload []byte) bool {
	switch mimeType {
	case mime.MimeTypeVP8:
		return IsVP8KeyFrame(payload)
	case mime.MimeTypeVP9:
		return IsVP9KeyFrame(payload)
	case mime.MimeTypeH264:
		return IsH264KeyFrame(payload)
	case mime.MimeTypeAV1:
		return IsAV1KeyFrame(payload)
	}
	return false
}

// -------------------------------------

/*
	VP8 Payload Descriptor
			0 1 2 3 4 5 6 7
			+-+-+-+-+-+-+-+-+
			|X|R|N|S|R| PID | (REQUIRED)
			+-+-+-+-+-+-+-+-+
		X:  |I|L|T|K| RSV   | (OPTIONAL)
			+-+-+-+-+-+-+-+-+
		I:  |M| PictureID   | (OPTIONAL)
			+-+-+-+-+-+-+-+-+
			|   PictureID   |
			+-+-+-+-+-+-+-+-+
		L:  |   TL0PICIDX   | (OPTIONAL)
			+-+-+-+-+-+-+-+-+
		T/K:|TID|Y| KEYIDX  | (OPTIONAL)
			+-+-+-+-+-+-+-+-+
*/

// VP8HeaderSize returns the size of the payload descriptor, or an error when the payload is truncated.
func VP8HeaderSize(payload []byte) (int, error) {
	if payload == nil {
		return 0, errNilPacket
	}
	if len(payload) < 1 {
		return 0, errShortPacket
	}

	idx := 1
	if payload[0]&0x80 == 0 {
		return idx, nil
	}

	if len(payload) < idx+1 {
		return 0, errShortPacket
	}
	ext := payload[idx]
	idx++

	hasPictureID := ext&0x80 > 0
	hasTL0PICIDX := ext&0x40 > 0
	hasTID := ext&0x20 > 0
	hasKEYIDX := ext&0x10 > 0
	if hasTL0PICIDX && !hasTID {
		return 0, errInvalidPacket
	}

	if hasPictureID {
		if len(payload) < idx+1 {
			return 0, errShortPacket
		}
		// M bit selects a 15 bit picture id
		if payload[idx]&0x80 > 0 {
			idx++
		}
		idx++
	}
	if hasTL0PICIDX {
		idx++
	}
	if hasTID || hasKEYIDX {
		idx++
	}
	if len(payload) < idx {
		return 0, errShortPacket
	}
	return idx, nil
}

// IsVP8KeyFrame checks the start bit of the descriptor and the P bit of the frame tag.
func IsVP8KeyFrame(payload []byte) bool {
	headerSize, err := VP8HeaderSize(payload)
	if err != nil || len(payload) < headerSize+1 {
		return false
	}

	isStartOfPartition := payload[0]&0x10 > 0
	return isStartOfPartition && payload[headerSize]&0x01 == 0
}

// -------------------------------------

// IsH264KeyFrame looks for an SPS NALU, unwrapping STAP/MTAP aggregates and FU fragments.
// Adapted from https://github.com/jech/galene rtpconn/rtpreader.go.
func IsH264KeyFrame(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}

	const naluSPS = 7

	nalu := payload[0] & 0x1F
	switch {
	case nalu == 0:
		// reserved
		return false

	case nalu <= 23:
		return nalu == naluSPS

	case nalu >= 24 && nalu <= 27:
		// STAP-A, STAP-B, MTAP16 or MTAP24
		i := 1
		if nalu != 24 {
			// skip DON
			i += 2
		}
		offset := 0
		switch nalu {
		case 26:
			offset = 3
		case 27:
			offset = 4
		}
		for i+2 <= len(payload) {
			length := int(payload[i])<<8 | int(payload[i+1])
			i += 2
			if i+length > len(payload) || offset >= length {
				return false
			}
			if payload[i+offset]&0x1F == naluSPS {
				return true
			}
			i += length
		}
		return false

	case nalu == 28 || nalu == 29:
		// FU-A or FU-B, only the starting fragment carries the type
		if len(payload) < 2 || payload[1]&0x80 == 0 {
			return false
		}
		return payload[1]&0x1F == naluSPS
	}

	return false
}

// -------------------------------------

func IsVP9KeyFrame(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}

	desc := payload[0]
	hasPictureID := desc&0x80 > 0
	interPicture := desc&0x40 > 0
	hasLayerIndices := desc&0x20 > 0
	flexible := desc&0x10 > 0
	startOfFrame := desc&0x08 > 0

	if interPicture || !startOfFrame || (flexible && !hasPictureID) {
		return false
	}
	if !hasLayerIndices {
		return true
	}

	idx := 1
	if hasPictureID {
		if len(payload) < idx+1 {
			return false
		}
		if payload[idx]&0x80 > 0 {
			idx++
		}
		idx++
	}
	if len(payload) < idx+1 {
		return false
	}

	tid := (payload[idx] >> 5) & 0x7
	sid := (payload[idx] >> 1) & 0x7
	return tid == 0 && sid == 0
}

// -------------------------------------

// IsAV1KeyFrame expects a sequence header OBU followed by a key frame header in the same packet.
// Adapted from https://github.com/jech/galene codecs/codecs.go.
func IsAV1KeyFrame(payload []byte) bool {
	if len(payload) < 2 {
		return false
	}
	// Z=0, N=1
	if payload[0]&0x88 != 0x08 {
		return false
	}
	obuCount := int((payload[0] & 0x30) >> 4)

	const (
		obuSequenceHeader = 1
		obuFrameHeader    = 3
		obuFrame          = 6
	)

	data := payload[1:]
	for i := 0; len(data) > 0; i++ {
		var obu []byte
		if obuCount == i+1 {
			// last element carries no length field
			obu, data = data, nil
		} else {
			length, n := readLeb128(data)
			if n == 0 || len(data) < n+length {
				return false
			}
			obu, data = data[n:n+length], data[n+length:]
		}
		if len(obu) < 1 {
			return false
		}

		obuType := (obu[0] & 0x38) >> 3
		if i == 0 {
			if obuType != obuSequenceHeader {
				return false
			}
			continue
		}
		if obuType == obuFrameHeader || obuType == obuFrame {
			// show_existing_frame == 0 and frame_type == KEY_FRAME
			return len(obu) >= 2 && obu[1]&0x80 == 0 && obu[1]&0x60 == 0
		}
	}
	return false
}

func readLeb128(data []byte) (int, int) {
	value := 0
	for i := 0; i < len(data) && i < 8; i++ {
		value |= int(data[i]&0x7f) << (i * 7)
		if data[i]&0x80 == 0 {
			return value, i + 1
		}
	}
	return 0, 0
}
