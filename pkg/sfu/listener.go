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
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
)

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

// ForwardListener receives everything the engine emits. Calls are made on the forwarding goroutine
// with the engine locked, so implementations must not call back into the engine synchronously.
//
//counterfeiter:generate . ForwardListener
type ForwardListener interface {
	// OnRelayRTP delivers a rewritten packet for viewer. Viewer 0 is the side tap.
	OnRelayRTP(viewer types.StreamID, pkt *rtp.Packet)
	// OnRelayRTCP delivers a feedback packet addressed to the publisher of id.
	OnRelayRTCP(id types.StreamID, pkt rtcp.Packet)
}
