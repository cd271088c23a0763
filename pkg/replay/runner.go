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
	"context"
	"time"

	"github.com/gammazero/deque"
	"github.com/livekit/protocol/logger"

	"github.com/orbit-rtc/orbit-forwarder/pkg/config"
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu"
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/buffer"
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
)

const defaultDrainTicks = 100

// virtual time starts here
var replayEpoch = time.Unix(0, 0)

type RunnerParams struct {
	Scenario   *Scenario
	Packets    []Packet
	Forwarding config.ForwardingConfig
	// Realtime paces ticks on the wall clock instead of running as fast as possible.
	Realtime bool
	Logger   logger.Logger
}

type event struct {
	at     time.Duration
	action *Action
	packet *Packet
}

// Runner feeds a capture through a forwarding engine on a virtual clock. Every tick it applies
// the actions and packets due by then, in capture order, settles speaker proposals and ticks the
// engine once.
type Runner struct {
	params    RunnerParams
	logger    logger.Logger
	engine    *sfu.ForwardingEngine
	switcher  *sfu.SpeakerSwitcher
	collector *collector
	queue     deque.Deque[event]
	ids       map[uint32]types.StreamID
	now       time.Duration
}

func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Forwarding.TickInterval <= 0 {
		params.Forwarding.TickInterval = sfu.DefaultTickInterval
	}

	r := &Runner{
		params: params,
		logger: params.Logger,
		ids:    params.Scenario.StreamIDs(),
	}
	r.collector = &collector{
		report: newReport(),
		now:    func() time.Duration { return r.now },
	}

	f := params.Forwarding
	engine, err := sfu.NewForwardingEngine(sfu.ForwardingEngineParams{
		TickInterval:   f.TickInterval,
		LatencyBudget:  f.LatencyBudget,
		SeqStep:        f.SeqStep,
		TimestampStep:  f.TimestampStep,
		MaxFrames:      f.MaxFrames,
		FIRHistorySize: f.FIRHistorySize,
		Parser: buffer.NewRTPFrameParser(buffer.RTPFrameParserParams{
			PayloadTypes:  f.MimeTypes(),
			MaxPacketSize: f.MaxPacketSize,
		}),
		Listener: r.collector,
		Logger:   params.Logger,
	})
	if err != nil {
		return nil, err
	}
	r.engine = engine
	r.switcher = sfu.NewSpeakerSwitcher(sfu.SpeakerSwitcherParams{
		Engine:   engine,
		Hold:     f.SpeakerHold,
		Debounce: f.SpeakerDebounce,
		Now:      func() time.Time { return replayEpoch.Add(r.now) },
		Logger:   params.Logger,
	})

	r.schedule()
	return r, nil
}

// Engine is exposed for status reporting while the replay runs.
func (r *Runner) Engine() *sfu.ForwardingEngine {
	return r.engine
}

// schedule merges actions and packets, an action goes first when both are due at the same offset.
func (r *Runner) schedule() {
	actions := r.params.Scenario.Actions
	packets := r.params.Packets
	for i, j := 0, 0; i < len(actions) || j < len(packets); {
		if i < len(actions) && (j == len(packets) || actions[i].At <= packets[j].Offset) {
			r.queue.PushBack(event{at: actions[i].At, action: &actions[i]})
			i++
		} else {
			r.queue.PushBack(event{at: packets[j].Offset, packet: &packets[j]})
			j++
		}
	}
}

func (r *Runner) Run(ctx context.Context) (*Report, error) {
	defer r.switcher.Close()

	tick := r.params.Forwarding.TickInterval
	drain := r.params.Scenario.DrainTicks
	if drain <= 0 {
		drain = defaultDrainTicks
	}

	r.logger.Infow("starting replay", "events", r.queue.Len(), "tickInterval", tick, "realtime", r.params.Realtime)
	start := time.Now()
	for r.queue.Len() != 0 || drain > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for r.queue.Len() != 0 && r.queue.Front().at <= r.now {
			r.apply(r.queue.PopFront())
		}
		r.switcher.Poll()
		if r.params.Realtime {
			time.Sleep(time.Until(start.Add(r.now)))
		}

		r.engine.Tick()
		if r.queue.Len() == 0 {
			drain--
		}
		r.now += tick
	}

	report := r.collector.report
	report.Duration = r.now
	report.Ticks = r.engine.Status().Ticks
	r.logger.Infow("replay finished", "duration", report.Duration, "ticks", report.Ticks, "continuous", report.Continuous())
	return report, nil
}

func (r *Runner) apply(e event) {
	if e.packet != nil {
		id, ok := r.ids[e.packet.SSRC]
		if !ok {
			r.collector.report.Unmapped++
			return
		}
		r.collector.report.PacketsIn++
		r.engine.OnIncomingPacket(id, e.packet.Payload)
		return
	}

	a := e.action
	r.logger.Debugw("applying action", "at", a.At, "action", a.Type, "streamID", a.Stream)
	switch a.Type {
	case ActionLink:
		r.engine.LinkStream(a.Stream)
	case ActionUnlink:
		r.engine.UnlinkStream(a.Stream)
	case ActionSpeaker:
		r.engine.ChangeToSpeaker(a.Stream)
	case ActionPropose:
		r.switcher.Propose(a.Stream)
	case ActionKeyframe:
		r.engine.RequestKeyframeForCurrentSpeaker()
	}
}
