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
	"strings"

	"github.com/pion/webrtc/v3"
)

const (
	MimeTypePrefixVideo = "video/"
)

type MimeTypeCodec string

const (
	MimeTypeCodecUnknown MimeTypeCodec = "MimeTypeCodecUnknown"
	MimeTypeCodecH264    MimeTypeCodec = "H264"
	MimeTypeCodecVP8     MimeTypeCodec = "VP8"
	MimeTypeCodecVP9     MimeTypeCodec = "VP9"
	MimeTypeCodecAV1     MimeTypeCodec = "AV1"
)

func (m MimeTypeCodec) String() string {
	return string(m)
}

func NormalizeMimeTypeCodec(codec string) MimeTypeCodec {
	switch {
	case strings.EqualFold(codec, "h264"):
		return MimeTypeCodecH264
	case strings.EqualFold(codec, "vp8"):
		return MimeTypeCodecVP8
	case strings.EqualFold(codec, "vp9"):
		return MimeTypeCodecVP9
	case strings.EqualFold(codec, "av1"):
		return MimeTypeCodecAV1
	}

	return MimeTypeCodecUnknown
}

type MimeType string

const (
	MimeTypeUnknown MimeType = "MimeTypeUnknown"
	MimeTypeH264    MimeType = webrtc.MimeTypeH264
	MimeTypeVP8     MimeType = webrtc.MimeTypeVP8
	MimeTypeVP9     MimeType = webrtc.MimeTypeVP9
	MimeTypeAV1     MimeType = webrtc.MimeTypeAV1
)

func (m MimeType) String() string {
	return string(m)
}

func (m MimeType) Codec() MimeTypeCodec {
	if m == MimeTypeUnknown {
		return MimeTypeCodecUnknown
	}
	return NormalizeMimeTypeCodec(strings.TrimPrefix(string(m), MimeTypePrefixVideo))
}

// NormalizeMimeType accepts either a full mime type ("video/vp8") or a bare codec name ("VP8").
func NormalizeMimeType(mime string) MimeType {
	codec := mime
	if len(mime) > len(MimeTypePrefixVideo) && strings.EqualFold(mime[:len(MimeTypePrefixVideo)], MimeTypePrefixVideo) {
		codec = mime[len(MimeTypePrefixVideo):]
	}

	switch NormalizeMimeTypeCodec(codec) {
	case MimeTypeCodecH264:
		return MimeTypeH264
	case MimeTypeCodecVP8:
		return MimeTypeVP8
	case MimeTypeCodecVP9:
		return MimeTypeVP9
	case MimeTypeCodecAV1:
		return MimeTypeAV1
	}

	return MimeTypeUnknown
}

func IsMimeTypeStringEqual(mime1 string, mime2 string) bool {
	return strings.EqualFold(mime1, mime2)
}

func IsMimeTypeStringVideo(mime string) bool {
	return NormalizeMimeType(mime) != MimeTypeUnknown
}
