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

package types

import (
	"sort"
	"strconv"
)

// StreamID identifies both a publisher's upstream stream and the participant that watches it.
type StreamID int32

const (
	// NoStream is the absent stream, used for an empty master or a node without a source.
	NoStream StreamID = -1

	// SideTapViewer receives a copy of the first follower's output on every tick.
	SideTapViewer StreamID = 0
)

func (s StreamID) String() string {
	if s == NoStream {
		return "none"
	}
	return strconv.FormatInt(int64(s), 10)
}

func (s StreamID) IsValid() bool {
	return s > SideTapViewer
}

func SortStreamIDs(ids []StreamID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
