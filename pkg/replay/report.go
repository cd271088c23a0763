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
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/types"
)

// ViewerReport summarises what one viewer received.
type ViewerReport struct {
	Packets  uint64
	Bytes    uint64
	FirstSN  uint16
	LastSN   uint16
	LastTS   uint32
	Gaps     uint64
	Backward uint64
}

type Report struct {
	Duration  time.Duration
	Ticks     uint64
	PacketsIn uint64
	// packets whose SSRC is not mapped to a stream
	Unmapped uint64
	Viewers  map[types.StreamID]*ViewerReport
	FIRs     map[types.StreamID]uint64
	PLIs     map[types.StreamID]uint64
	SideTap  []Packet
}

func newReport() *Report {
	return &Report{
		Viewers: make(map[types.StreamID]*ViewerReport),
		FIRs:    make(map[types.StreamID]uint64),
		PLIs:    make(map[types.StreamID]uint64),
	}
}

// Continuous reports whether every viewer received a gapless, forward moving sequence.
func (r *Report) Continuous() bool {
	for _, v := range r.Viewers {
		if v.Gaps != 0 || v.Backward != 0 {
			return false
		}
	}
	return true
}

func (r *Report) viewerIDs() []types.StreamID {
	ids := make([]types.StreamID, 0, len(r.Viewers))
	for id := range r.Viewers {
		ids = append(ids, id)
	}
	types.SortStreamIDs(ids)
	return ids
}

func (r *Report) WriteTable(w io.Writer) {
	_, _ = fmt.Fprintf(w, "replayed %s in %s ticks, %s packets in, %s unmapped\n\n",
		r.Duration,
		humanize.Comma(int64(r.Ticks)),
		humanize.Comma(int64(r.PacketsIn)),
		humanize.Comma(int64(r.Unmapped)),
	)

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Viewer", "Packets", "Bytes", "First SN", "Last SN", "Gaps", "Backward", "FIR", "PLI"})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT,
	})

	for _, id := range r.viewerIDs() {
		v := r.Viewers[id]
		name := id.String()
		if id == types.SideTapViewer {
			name = "side tap"
		}
		table.Append([]string{
			name,
			humanize.Comma(int64(v.Packets)),
			humanize.Bytes(v.Bytes),
			fmt.Sprintf("%d", v.FirstSN),
			fmt.Sprintf("%d", v.LastSN),
			fmt.Sprintf("%d", v.Gaps),
			fmt.Sprintf("%d", v.Backward),
			fmt.Sprintf("%d", r.FIRs[id]),
			fmt.Sprintf("%d", r.PLIs[id]),
		})
	}
	table.Render()

	if r.Continuous() {
		_, _ = fmt.Fprintln(w, "\ncontinuity: ok")
	} else {
		_, _ = fmt.Fprintln(w, "\ncontinuity: BROKEN")
	}
}

// -------------------------------------

// collector is the forward listener of a replay. It runs with the engine locked and only records.
type collector struct {
	report *Report
	now    func() time.Duration
}

func (c *collector) OnRelayRTP(viewer types.StreamID, pkt *rtp.Packet) {
	v, ok := c.report.Viewers[viewer]
	if !ok {
		v = &ViewerReport{FirstSN: pkt.SequenceNumber, LastSN: pkt.SequenceNumber - 1}
		c.report.Viewers[viewer] = v
	}

	// the side tap follows whoever is served first and is not a continuous stream
	if viewer != types.SideTapViewer {
		switch diff := int16(pkt.SequenceNumber - v.LastSN); {
		case diff <= 0:
			v.Backward++
		case diff > 1:
			v.Gaps++
		}
	}

	v.Packets++
	v.Bytes += uint64(len(pkt.Payload))
	v.LastSN = pkt.SequenceNumber
	v.LastTS = pkt.Timestamp

	if viewer == types.SideTapViewer {
		if raw, err := pkt.Marshal(); err == nil {
			c.report.SideTap = append(c.report.SideTap, Packet{
				Offset:  c.now(),
				SSRC:    pkt.SSRC,
				Payload: raw,
			})
		}
	}
}

func (c *collector) OnRelayRTCP(id types.StreamID, pkt rtcp.Packet) {
	switch pkt.(type) {
	case *rtcp.FullIntraRequest:
		c.report.FIRs[id]++
	case *rtcp.PictureLossIndication:
		c.report.PLIs[id]++
	}
}
