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

package mime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMimeType(t *testing.T) {
	testCases := []struct {
		input    string
		expected MimeType
	}{
		{"video/VP8", MimeTypeVP8},
		{"video/vp8", MimeTypeVP8},
		{"VP9", MimeTypeVP9},
		{"h264", MimeTypeH264},
		{"Video/AV1", MimeTypeAV1},
		{"audio/opus", MimeTypeUnknown},
		{"", MimeTypeUnknown},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			require.Equal(t, tc.expected, NormalizeMimeType(tc.input))
		})
	}
}

func TestMimeTypeCodec(t *testing.T) {
	require.Equal(t, MimeTypeCodecVP8, MimeTypeVP8.Codec())
	require.Equal(t, MimeTypeCodecH264, MimeTypeH264.Codec())
	require.Equal(t, MimeTypeCodecUnknown, MimeTypeUnknown.Codec())
	require.True(t, IsMimeTypeStringVideo("video/VP9"))
	require.False(t, IsMimeTypeStringVideo("audio/opus"))
}
