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
	"encoding/binary"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
)

const (
	rtpHeaderSize = 12
	snapLen       = 65536
)

// Packet is one RTP packet taken from a capture, Offset is relative to the first captured packet.
type Packet struct {
	Offset  time.Duration
	SSRC    uint32
	Payload []byte
}

func ReadCaptureFile(path string) ([]Packet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open capture %s", path)
	}
	defer f.Close()

	packets, err := ReadCapture(f)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read capture %s", path)
	}
	return packets, nil
}

// ReadCapture extracts the RTP packets carried over UDP in a pcap stream. RTCP and anything that
// is not RTP version 2 are skipped.
func ReadCapture(r io.Reader) ([]Packet, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}

	var (
		packets []Packet
		start   time.Time
	)
	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		pkt := gopacket.NewPacket(data, reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || !isRTP(udp.Payload) {
			continue
		}

		if start.IsZero() {
			start = ci.Timestamp
		}
		payload := make([]byte, len(udp.Payload))
		copy(payload, udp.Payload)
		packets = append(packets, Packet{
			Offset:  ci.Timestamp.Sub(start),
			SSRC:    binary.BigEndian.Uint32(payload[8:12]),
			Payload: payload,
		})
	}
	return packets, nil
}

// isRTP demultiplexes RTP from RTCP by the packet type range of RFC 5761.
func isRTP(b []byte) bool {
	if len(b) < rtpHeaderSize || b[0]>>6 != 2 {
		return false
	}
	return b[1] < 192 || b[1] > 223
}

// WriteCapture writes packets as UDP datagrams over ethernet, starting at start.
func WriteCapture(w io.Writer, start time.Time, packets []Packet) error {
	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return err
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(127, 0, 0, 1),
		DstIP:    net.IPv4(127, 0, 0, 1),
	}
	udp := &layers.UDP{
		SrcPort: 5004,
		DstPort: 5006,
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	buf := gopacket.NewSerializeBuffer()
	for _, p := range packets {
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(p.Payload)); err != nil {
			return err
		}
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(p.Offset),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := writer.WritePacket(ci, data); err != nil {
			return err
		}
	}
	return nil
}
