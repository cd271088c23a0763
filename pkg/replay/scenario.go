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
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
)

type ActionType string

const (
	ActionLink     ActionType = "link"
	ActionUnlink   ActionType = "unlink"
	ActionSpeaker  ActionType = "speaker"
	ActionPropose  ActionType = "propose"
	ActionKeyframe ActionType = "keyframe"
)

// Action is a control call made At an offset from the start of the capture.
type Action struct {
	At     time.Duration  `yaml:"at"`
	Type   ActionType     `yaml:"action"`
	Stream types.StreamID `yaml:"stream,omitempty"`
}

type StreamMapping struct {
	SSRC uint32         `yaml:"ssrc"`
	ID   types.StreamID `yaml:"id"`
}

// Scenario binds the publishers found in a capture to stream ids and lists the control calls to
// make while replaying it.
type Scenario struct {
	Streams []StreamMapping `yaml:"streams"`
	Actions []Action        `yaml:"actions"`
	// drain ticks run after the last packet
	DrainTicks int `yaml:"drain_ticks,omitempty"`
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read scenario %s", path)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, errors.Wrap(err, "could not parse scenario")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	// stable, actions at the same offset keep their order
	sort.SliceStable(s.Actions, func(i, j int) bool {
		return s.Actions[i].At < s.Actions[j].At
	})
	return &s, nil
}

func (s *Scenario) Validate() error {
	if len(s.Streams) == 0 {
		return ErrNoStreams
	}

	ssrcs := make(map[uint32]struct{}, len(s.Streams))
	for _, m := range s.Streams {
		if !m.ID.IsValid() {
			return errors.Wrapf(ErrInvalidStreamID, "ssrc %d maps to %s", m.SSRC, m.ID)
		}
		if _, ok := ssrcs[m.SSRC]; ok {
			return errors.Wrapf(ErrDuplicateSSRC, "ssrc %d", m.SSRC)
		}
		ssrcs[m.SSRC] = struct{}{}
	}

	for i, a := range s.Actions {
		switch a.Type {
		case ActionLink, ActionUnlink, ActionSpeaker, ActionPropose:
			if !a.Stream.IsValid() {
				return errors.Wrapf(ErrInvalidStreamID, "action %d (%s) targets %s", i, a.Type, a.Stream)
			}
		case ActionKeyframe:
		default:
			return errors.Wrapf(ErrUnknownAction, "action %d: %q", i, a.Type)
		}
		if a.At < 0 {
			return errors.Errorf("action %d: negative offset %s", i, a.At)
		}
	}
	return nil
}

// StreamIDs maps every configured SSRC to its stream id.
func (s *Scenario) StreamIDs() map[uint32]types.StreamID {
	ids := make(map[uint32]types.StreamID, len(s.Streams))
	for _, m := range s.Streams {
		ids[m.SSRC] = m.ID
	}
	return ids
}
