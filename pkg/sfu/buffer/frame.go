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
)

// Frame is one parsed RTP packet. Frames are never mutated after parsing.
type Frame struct {
	SequenceNumber uint16
	Timestamp      uint32
	Marker         bool
	PayloadType    uint8
	SSRC           uint32
	KeyFrame       bool
	Payload        []byte // RTP header stripped
	RawSize        int
}

func (f *Frame) String() string {
	if f == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Frame{sn: %d, ts: %d, pt: %d, key: %t, marker: %t, size: %d}",
		f.SequenceNumber, f.Timestamp, f.PayloadType, f.KeyFrame, f.Marker, len(f.Payload))
}

// FrameParser turns raw bytes received from a publisher into a Frame.
type FrameParser interface {
	Parse(raw []byte) (*Frame, error)
}
