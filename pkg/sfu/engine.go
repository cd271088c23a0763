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

package sfu

import (
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/livekit/protocol/logger"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"go.uber.org/atomic"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/buffer"
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/graph"
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
	"github.com/orbit-rtc/orbit-forwarder/pkg/telemetry/prometheus"
)

const (
	DefaultTickInterval  = time.Millisecond
	DefaultLatencyBudget = 5 * time.Millisecond
)

type ForwardingEngineParams struct {
	TickInterval  time.Duration
	LatencyBudget time.Duration
	SeqStep       uint16
	TimestampStep uint32
	// MaxFrames bounds every source buffer.
	MaxFrames      int
	FIRHistorySize int
	Parser         buffer.FrameParser
	Listener       ForwardListener
	Logger         logger.Logger
}

// ForwardingEngine routes every linked stream's video to the viewers watching it.
//
// Control calls mutate the source graph and apply the resulting events to the source buffers
// synchronously. A ticker drives forwarding: each tick every viewer receives the head frame of
// its current source, rewritten into the viewer's own sequence and timestamp space, then every
// source that served someone is popped once.
type ForwardingEngine struct {
	params    ForwardingEngineParams
	logger    logger.Logger
	listener  *safeListener
	requester *KeyframeRequester
	graph     *graph.SourceGraph

	lock            sync.Mutex
	buffers         map[types.StreamID]*buffer.SourceBuffer
	contexts        map[types.StreamID]*SwitchContext
	pendingPrepared []types.StreamID
	ticks           uint64

	started atomic.Bool
	stop    core.Fuse
	done    core.Fuse
}

func NewForwardingEngine(params ForwardingEngineParams) (*ForwardingEngine, error) {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.TickInterval <= 0 {
		params.TickInterval = DefaultTickInterval
	}
	if params.LatencyBudget <= 0 {
		params.LatencyBudget = DefaultLatencyBudget
	}
	if params.SeqStep == 0 {
		params.SeqStep = DefaultSeqStep
	}
	if params.TimestampStep == 0 {
		params.TimestampStep = DefaultTimestampStep
	}
	if params.Parser == nil {
		params.Parser = buffer.NewRTPFrameParser(buffer.RTPFrameParserParams{})
	}

	e := &ForwardingEngine{
		params: params,
		logger: params.Logger,
		listener: &safeListener{
			listener: params.Listener,
			logger:   params.Logger,
		},
		graph: graph.NewSourceGraph(graph.SourceGraphParams{
			Logger: params.Logger,
		}),
		buffers:  make(map[types.StreamID]*buffer.SourceBuffer),
		contexts: make(map[types.StreamID]*SwitchContext),
	}

	requester, err := NewKeyframeRequester(KeyframeRequesterParams{
		Listener:    e.listener,
		HistorySize: params.FIRHistorySize,
		Logger:      params.Logger,
	})
	if err != nil {
		return nil, err
	}
	e.requester = requester

	return e, nil
}

// Start launches the forwarding goroutine.
func (e *ForwardingEngine) Start() error {
	if e.stop.IsBroken() {
		return ErrEngineStopped
	}
	if e.started.Swap(true) {
		return nil
	}

	go e.forwardWorker()
	return nil
}

// Stop ends the forwarding goroutine and waits for an in-flight tick to complete.
func (e *ForwardingEngine) Stop() {
	e.stop.Break()
	if e.started.Load() {
		<-e.done.Watch()
	}
}

func (e *ForwardingEngine) forwardWorker() {
	defer e.done.Break()

	ticker := time.NewTicker(e.params.TickInterval)
	defer ticker.Stop()

	e.logger.Infow("forwarding started", "tickInterval", e.params.TickInterval)
	for {
		select {
		case <-e.stop.Watch():
			e.logger.Infow("forwarding stopped")
			return

		case <-ticker.C:
			e.Tick()
		}
	}
}

// OnIncomingPacket hands a raw packet from the publisher of id to its source buffer.
func (e *ForwardingEngine) OnIncomingPacket(id types.StreamID, raw []byte) {
	e.lock.Lock()
	defer e.lock.Unlock()

	buf, ok := e.buffers[id]
	if !ok {
		e.logger.Debugw("packet for unknown stream", "streamID", id, "size", len(raw))
		return
	}

	prometheus.IncrementPackets(prometheus.Incoming, 1)
	prometheus.IncrementBytes(prometheus.Incoming, uint64(len(raw)))

	buf.Push(raw)
	e.drainPreparedLocked()
}

func (e *ForwardingEngine) LinkStream(id types.StreamID) {
	if !id.IsValid() {
		e.logger.Warnw("cannot link stream", ErrStreamIDReserved, "streamID", id)
		return
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	if _, ok := e.buffers[id]; ok {
		e.logger.Debugw("stream already linked", "streamID", id)
		return
	}

	buf := buffer.NewSourceBuffer(buffer.SourceBufferParams{
		StreamID:  id,
		Parser:    e.params.Parser,
		MaxFrames: e.params.MaxFrames,
		Logger:    e.params.Logger,
	})
	buf.OnPrepared(e.onBufferPrepared)
	e.buffers[id] = buf
	e.contexts[id] = NewSwitchContext()

	e.applyEventsLocked(e.graph.Add(id))
	e.drainPreparedLocked()

	e.logger.Infow("stream linked", "streamID", id, "master", e.graph.Master(), "streams", len(e.buffers))
	e.updateStreamGaugeLocked()
}

func (e *ForwardingEngine) UnlinkStream(id types.StreamID) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if _, ok := e.buffers[id]; !ok {
		e.logger.Debugw("cannot unlink stream", "error", ErrUnknownStream, "streamID", id)
		return
	}

	// disables the buffer of id before it goes away
	e.applyEventsLocked(e.graph.Remove(id))

	delete(e.buffers, id)
	delete(e.contexts, id)
	e.drainPreparedLocked()

	e.logger.Infow("stream unlinked", "streamID", id, "master", e.graph.Master(), "streams", len(e.buffers))
	e.updateStreamGaugeLocked()
}

// ChangeToSpeaker makes id the master, every other viewer switches to it once it is prepared.
func (e *ForwardingEngine) ChangeToSpeaker(id types.StreamID) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if _, ok := e.buffers[id]; !ok {
		e.logger.Debugw("cannot change speaker", "error", ErrUnknownStream, "streamID", id)
		return
	}

	previous := e.graph.Master()
	events := e.graph.SetMaster(id)
	if len(events) == 0 {
		return
	}
	e.applyEventsLocked(events)
	e.drainPreparedLocked()

	e.logger.Infow("speaker changed", "streamID", id, "previous", previous)
}

func (e *ForwardingEngine) RequestKeyframeForCurrentSpeaker() {
	e.lock.Lock()
	defer e.lock.Unlock()

	master := e.graph.Master()
	if master == types.NoStream {
		return
	}
	e.sendFirLocked(master)
}

// Tick forwards one frame per source. It is called by the forwarding goroutine and may be called
// directly when the caller drives time itself.
func (e *ForwardingEngine) Tick() {
	start := time.Now()

	e.lock.Lock()
	e.forwardLocked()
	e.drainPreparedLocked()
	e.ticks++
	e.lock.Unlock()

	elapsed := time.Since(start)
	overBudget := elapsed > e.params.LatencyBudget
	if overBudget {
		e.logger.Warnw("forwarding tick exceeded latency budget", nil, "elapsed", elapsed, "budget", e.params.LatencyBudget)
	}
	prometheus.RecordTick(elapsed, overBudget)
}

func (e *ForwardingEngine) forwardLocked() {
	var (
		sources   []types.StreamID
		followers = make(map[types.StreamID][]types.StreamID)
	)
	for _, viewer := range e.graph.IDs() {
		src := e.graph.Source(viewer)
		if src == types.NoStream {
			continue
		}
		if _, ok := followers[src]; !ok {
			sources = append(sources, src)
		}
		followers[src] = append(followers[src], viewer)
	}

	sideTapped := false
	served := make([]types.StreamID, 0, len(sources))
	for _, src := range sources {
		buf, ok := e.buffers[src]
		if !ok {
			continue
		}
		frame := buf.Top()
		if frame == nil {
			continue
		}
		served = append(served, src)

		for _, viewer := range followers[src] {
			ctx, ok := e.contexts[viewer]
			if !ok {
				continue
			}

			seq, ts, ok := ctx.Rewrite(frame)
			if !ok {
				e.logger.Errorw("dropping frame for viewer", errSequenceRegression,
					"viewer", viewer,
					"source", src,
					"sn", frame.SequenceNumber,
					"outSN", seq,
					"lastOutSN", ctx.Seq,
				)
				continue
			}

			e.listener.OnRelayRTP(viewer, newOutgoingPacket(frame, seq, ts))
			if !sideTapped {
				sideTapped = true
				e.listener.OnRelayRTP(types.SideTapViewer, newOutgoingPacket(frame, seq, ts))
			}
		}
	}

	for _, src := range served {
		e.buffers[src].Pop()
	}
}

func newOutgoingPacket(frame *buffer.Frame, seq uint16, ts uint32) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    frame.PayloadType,
			Marker:         frame.Marker,
			SequenceNumber: seq,
			Timestamp:      ts,
		},
		Payload: frame.Payload,
	}
}

// -------------------------------------

// onBufferPrepared runs from buffer calls made with the engine locked, the graph is updated once
// the triggering call completes.
func (e *ForwardingEngine) onBufferPrepared(id types.StreamID) {
	e.pendingPrepared = append(e.pendingPrepared, id)
}

func (e *ForwardingEngine) drainPreparedLocked() {
	for len(e.pendingPrepared) != 0 {
		id := e.pendingPrepared[0]
		e.pendingPrepared = e.pendingPrepared[1:]

		e.applyEventsLocked(e.graph.SetPrepared(id))
	}
	e.pendingPrepared = nil
}

func (e *ForwardingEngine) applyEventsLocked(events []graph.Event) {
	var prepares []types.StreamID
	for _, event := range events {
		switch event.Type {
		case graph.EventTypePrepare:
			e.sendFirLocked(event.ID)
			prepares = append(prepares, event.ID)

		case graph.EventTypeSourceChanged:
			e.resetSwitchContextLocked(event.ID)

		case graph.EventTypeEnabled:
			if buf, ok := e.buffers[event.ID]; ok {
				buf.Enable()
			}

		case graph.EventTypeDisabled:
			if buf, ok := e.buffers[event.ID]; ok {
				buf.Disable()
			}

		case graph.EventTypeHasLooker:
			if buf, ok := e.buffers[event.ID]; ok {
				buf.SetHasLooker(true)
			}

		case graph.EventTypeNoLooker:
			if buf, ok := e.buffers[event.ID]; ok {
				buf.SetHasLooker(false)
			}
		}
	}

	// a source already holding a keyframe commits right away
	for _, id := range prepares {
		if buf, ok := e.buffers[id]; ok && buf.HeadIsKeyFrame() {
			e.pendingPrepared = append(e.pendingPrepared, id)
		}
	}
}

func (e *ForwardingEngine) sendFirLocked(id types.StreamID) {
	if buf, ok := e.buffers[id]; ok {
		if ssrc := buf.LastSSRC(); ssrc != 0 {
			e.requester.SetMediaSSRC(id, ssrc)
		}
	}
	e.requester.SendFir(id)
}

func (e *ForwardingEngine) resetSwitchContextLocked(viewer types.StreamID) {
	ctx, ok := e.contexts[viewer]
	if !ok {
		return
	}

	src := e.graph.Source(viewer)
	var top *buffer.Frame
	if buf, ok := e.buffers[src]; ok {
		top = buf.Top()
	}
	ctx.Reset(top, e.params.SeqStep, e.params.TimestampStep)
	prometheus.IncrementSourceSwitches()

	e.logger.Debugw("source changed", "viewer", viewer, "source", src, "anchored", ctx.Anchored(), "lastSN", ctx.LastSeq)
}

func (e *ForwardingEngine) updateStreamGaugeLocked() {
	following := 0
	for _, id := range e.graph.IDs() {
		if e.graph.Source(id) != types.NoStream {
			following++
		}
	}
	prometheus.SetStreams(len(e.buffers), following)
}

// -------------------------------------

// safeListener keeps a misbehaving listener from taking down the forwarding goroutine.
type safeListener struct {
	listener ForwardListener
	logger   logger.Logger
}

func (l *safeListener) OnRelayRTP(viewer types.StreamID, pkt *rtp.Packet) {
	if l.listener == nil {
		return
	}
	defer l.recoverPanic("rtp", viewer)

	l.listener.OnRelayRTP(viewer, pkt)
	prometheus.IncrementPackets(prometheus.Outgoing, 1)
	prometheus.IncrementBytes(prometheus.Outgoing, uint64(len(pkt.Payload)))
}

func (l *safeListener) OnRelayRTCP(id types.StreamID, pkt rtcp.Packet) {
	if l.listener == nil {
		return
	}
	defer l.recoverPanic("rtcp", id)

	l.listener.OnRelayRTCP(id, pkt)
}

func (l *safeListener) recoverPanic(kind string, id types.StreamID) {
	if r := recover(); r != nil {
		l.logger.Errorw("recovered from listener panic", errListenerPanic, "kind", kind, "streamID", id, "panic", r)
		prometheus.IncrementListenerPanics()
	}
}
