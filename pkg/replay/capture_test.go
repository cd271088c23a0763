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

package replay

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCaptureRoundTrip(t *testing.T) {
	packets := publish(t, 0xabcd, 10, 5, 5, 20*time.Millisecond)

	// a receiver report travelling on the same port is skipped
	rr := Packet{
		Offset:  30 * time.Millisecond,
		Payload: []byte{0x80, 201, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00},
	}
	written := append([]Packet{}, packets[:2]...)
	written = append(written, rr)
	written = append(written, packets[2:]...)

	var buf bytes.Buffer
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, WriteCapture(&buf, start, written))

	read, err := ReadCapture(&buf)
	require.NoError(t, err)
	require.Len(t, read, len(packets))
	for i, p := range read {
		require.Equal(t, packets[i].Offset, p.Offset)
		require.Equal(t, uint32(0xabcd), p.SSRC)
		require.Equal(t, packets[i].Payload, p.Payload)
	}
}

func TestReadCaptureInvalid(t *testing.T) {
	_, err := ReadCapture(bytes.NewReader([]byte("not a capture")))
	require.Error(t, err)
}

func TestIsRTP(t *testing.T) {
	require.False(t, isRTP([]byte{0x80, 0x60}))
	require.False(t, isRTP(make([]byte, 12)))
	require.False(t, isRTP(append([]byte{0x80, 200}, make([]byte, 10)...)))
	require.True(t, isRTP(append([]byte{0x80, 0x60}, make([]byte, 10)...)))
	require.True(t, isRTP(append([]byte{0x80, 0xe0}, make([]byte, 10)...)))
}
