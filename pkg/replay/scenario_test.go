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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
)

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(`
streams:
  - ssrc: 1111
    id: 1
  - ssrc: 2222
    id: 2
actions:
  - at: 500ms
    action: speaker
    stream: 2
  - at: 0s
    action: link
    stream: 1
  - at: 0s
    action: link
    stream: 2
  - at: 1s
    action: keyframe
drain_ticks: 10
`))
	require.NoError(t, err)

	require.Equal(t, map[uint32]types.StreamID{1111: 1, 2222: 2}, s.StreamIDs())
	require.Equal(t, []Action{
		{At: 0, Type: ActionLink, Stream: 1},
		{At: 0, Type: ActionLink, Stream: 2},
		{At: 500 * time.Millisecond, Type: ActionSpeaker, Stream: 2},
		{At: time.Second, Type: ActionKeyframe},
	}, s.Actions)
	require.Equal(t, 10, s.DrainTicks)
}

func TestParseScenarioInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		err     error
	}{
		{
			name:    "no streams",
			content: "actions: []",
			err:     ErrNoStreams,
		},
		{
			name:    "reserved id",
			content: "streams:\n  - ssrc: 1\n    id: 0",
			err:     ErrInvalidStreamID,
		},
		{
			name:    "duplicate ssrc",
			content: "streams:\n  - ssrc: 1\n    id: 1\n  - ssrc: 1\n    id: 2",
			err:     ErrDuplicateSSRC,
		},
		{
			name:    "unknown action",
			content: "streams:\n  - ssrc: 1\n    id: 1\nactions:\n  - action: mute\n    stream: 1",
			err:     ErrUnknownAction,
		},
		{
			name:    "link without stream",
			content: "streams:\n  - ssrc: 1\n    id: 1\nactions:\n  - action: link",
			err:     ErrInvalidStreamID,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tc.content))
			require.ErrorIs(t, err, tc.err)
		})
	}

	_, err := ParseScenario([]byte("streams: []\nunknown: true"))
	require.Error(t, err)
}

func TestLoadScenarioExample(t *testing.T) {
	s, err := LoadScenario("../../examples/replay/scenario.yaml")
	require.NoError(t, err)
	require.Len(t, s.StreamIDs(), 3)
	require.Equal(t, types.StreamID(3), s.StreamIDs()[0x1a2b3c03])
	require.Equal(t, ActionUnlink, s.Actions[len(s.Actions)-1].Type)

	_, err = LoadScenario("does-not-exist.yaml")
	require.Error(t, err)
}
