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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/testutils"
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
)

func makeRTP(t *testing.T, sn uint16, keyFrame bool) []byte {
	_, raw, err := testutils.GetTestPacket(&testutils.TestPacketParams{
		IsKeyFrame:     keyFrame,
		SequenceNumber: sn,
		Timestamp:      uint32(sn) * 3000,
		SSRC:           0x1234,
	})
	require.NoError(t, err)
	return raw
}

type preparedRecorder struct {
	ids []types.StreamID
}

func (p *preparedRecorder) onPrepared(id types.StreamID) {
	p.ids = append(p.ids, id)
}

func newTestBuffer(maxFrames int) (*SourceBuffer, *preparedRecorder) {
	b := NewSourceBuffer(SourceBufferParams{
		StreamID:  7,
		MaxFrames: maxFrames,
	})
	rec := &preparedRecorder{}
	b.OnPrepared(rec.onPrepared)
	b.Enable()
	return b, rec
}

func TestSourceBufferNoLookerKeyFrameGating(t *testing.T) {
	b, rec := newTestBuffer(0)

	b.Push(makeRTP(t, 1, false))
	require.Equal(t, 0, b.Len())
	require.Empty(t, rec.ids)

	b.Push(makeRTP(t, 10, true))
	b.Push(makeRTP(t, 11, false))
	b.Push(makeRTP(t, 9, false))

	require.Equal(t, 2, b.Len())
	top := b.Top()
	require.NotNil(t, top)
	require.Equal(t, uint16(10), top.SequenceNumber)
	require.True(t, top.KeyFrame)
	require.Equal(t, []types.StreamID{7}, rec.ids)

	stats := b.Stats()
	require.Equal(t, uint64(2), stats.Accepted)
	require.Equal(t, uint64(2), stats.Dropped)
	require.True(t, stats.HeadIsKeyFrame)
}

func TestSourceBufferKeyFrameResetFiresAgain(t *testing.T) {
	b, rec := newTestBuffer(0)

	b.Push(makeRTP(t, 10, true))
	b.Push(makeRTP(t, 11, false))
	b.Push(makeRTP(t, 20, true))

	require.Equal(t, 1, b.Len())
	require.Equal(t, uint16(20), b.Top().SequenceNumber)
	require.Len(t, rec.ids, 2)
}

func TestSourceBufferDisabled(t *testing.T) {
	b := NewSourceBuffer(SourceBufferParams{StreamID: 3})

	b.Push(makeRTP(t, 10, true))
	require.Nil(t, b.Top())
	require.Nil(t, b.Pop())
	require.Equal(t, 0, b.Len())
	require.Equal(t, uint32(0x1234), b.LastSSRC())

	b.Enable()
	b.Push(makeRTP(t, 10, true))
	require.Equal(t, 1, b.Len())

	b.Disable()
	require.False(t, b.Enabled())
	require.Nil(t, b.Top())

	// re-enabling starts empty
	b.Enable()
	require.Equal(t, 0, b.Len())
}

func TestSourceBufferHasLookerOrdering(t *testing.T) {
	b, _ := newTestBuffer(0)
	b.SetHasLooker(true)

	for _, sn := range []uint16{5, 3, 4, 4, 6} {
		b.Push(makeRTP(t, sn, false))
	}
	require.Equal(t, 4, b.Len())
	require.Equal(t, uint64(1), b.Stats().Dropped)

	var popped []uint16
	for i := 0; i < 2; i++ {
		popped = append(popped, b.Pop().SequenceNumber)
	}
	require.Equal(t, []uint16{3, 4}, popped)

	// behind the play point
	b.Push(makeRTP(t, 2, false))
	b.Push(makeRTP(t, 4, false))
	require.Equal(t, 2, b.Len())

	require.Equal(t, uint16(5), b.Pop().SequenceNumber)
	require.Equal(t, uint16(6), b.Pop().SequenceNumber)
	require.Nil(t, b.Pop())
}

func TestSourceBufferWrapAroundOrdering(t *testing.T) {
	b, _ := newTestBuffer(0)
	b.SetHasLooker(true)

	for _, sn := range []uint16{65535, 1, 65534, 0} {
		b.Push(makeRTP(t, sn, false))
	}

	var popped []uint16
	for f := b.Pop(); f != nil; f = b.Pop() {
		popped = append(popped, f.SequenceNumber)
	}
	require.Equal(t, []uint16{65534, 65535, 0, 1}, popped)
}

func TestSourceBufferPreparedIsEdgeTriggered(t *testing.T) {
	b, rec := newTestBuffer(0)
	b.SetHasLooker(true)

	b.Push(makeRTP(t, 10, true))
	require.Len(t, rec.ids, 1)

	b.Push(makeRTP(t, 11, false))
	b.Push(makeRTP(t, 12, true))
	require.Len(t, rec.ids, 1)

	b.Pop()
	require.Len(t, rec.ids, 1)
	require.False(t, b.HeadIsKeyFrame())

	// keyframe reaches the head
	b.Pop()
	require.Len(t, rec.ids, 2)
	require.True(t, b.HeadIsKeyFrame())
}

func TestSourceBufferSetHasLooker(t *testing.T) {
	t.Run("keeps keyframe run", func(t *testing.T) {
		b, _ := newTestBuffer(0)
		b.Push(makeRTP(t, 10, true))
		b.SetHasLooker(true)
		b.Push(makeRTP(t, 11, false))

		b.SetHasLooker(false)
		require.False(t, b.HasLooker())
		require.Equal(t, 2, b.Len())
	})

	t.Run("drops run without keyframe head", func(t *testing.T) {
		b, _ := newTestBuffer(0)
		b.SetHasLooker(true)
		b.Push(makeRTP(t, 10, false))
		b.Push(makeRTP(t, 11, true))

		b.SetHasLooker(false)
		require.Equal(t, 0, b.Len())

		// no-looker admission applies again
		b.Push(makeRTP(t, 12, false))
		require.Equal(t, 0, b.Len())
	})
}

func TestSourceBufferParseFailure(t *testing.T) {
	b, _ := newTestBuffer(0)

	b.Push([]byte{0x80, 0x60})
	b.Push(nil)

	unknownPT := makeRTP(t, 10, true)
	unknownPT[1] = 0x7f
	b.Push(unknownPT)

	require.Equal(t, 0, b.Len())
	require.Equal(t, uint64(3), b.Stats().Dropped)
}

func TestSourceBufferOverflow(t *testing.T) {
	t.Run("with looker evicts oldest", func(t *testing.T) {
		b, _ := newTestBuffer(2)
		b.SetHasLooker(true)
		for sn := uint16(1); sn <= 3; sn++ {
			b.Push(makeRTP(t, sn, false))
		}
		require.Equal(t, 2, b.Len())
		require.Equal(t, uint16(2), b.Top().SequenceNumber)
	})

	t.Run("without looker refuses", func(t *testing.T) {
		b, _ := newTestBuffer(2)
		b.Push(makeRTP(t, 1, true))
		b.Push(makeRTP(t, 2, false))
		b.Push(makeRTP(t, 3, false))
		require.Equal(t, 2, b.Len())
		require.Equal(t, uint16(1), b.Top().SequenceNumber)
	})
}

func TestSourceBufferNoLookerHeadAlwaysKeyFrame(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	b, _ := newTestBuffer(64)

	sn := uint16(65000)
	for i := 0; i < 5000; i++ {
		// mostly forward with jitter and the odd reordering
		sn += uint16(r.Intn(3))
		if r.Intn(10) == 0 {
			sn -= uint16(r.Intn(5))
		}
		b.Push(makeRTP(t, sn, r.Intn(20) == 0))

		if top := b.Top(); top != nil {
			require.True(t, top.KeyFrame, "iteration %d", i)
		}
	}
}
