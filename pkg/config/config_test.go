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

package config

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/orbit-rtc/orbit-forwarder/pkg/config/configtest"
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/mime"
)

func TestConfig_Defaults(t *testing.T) {
	conf, err := NewConfig("", true, nil, nil)
	require.NoError(t, err)

	require.Equal(t, time.Millisecond, conf.Forwarding.TickInterval)
	require.Equal(t, 5*time.Millisecond, conf.Forwarding.LatencyBudget)
	require.Equal(t, uint16(1), conf.Forwarding.SeqStep)
	require.Equal(t, uint32(2880), conf.Forwarding.TimestampStep)
	require.Equal(t, 2*time.Second, conf.Forwarding.SpeakerHold)
	require.Equal(t, mime.MimeTypeVP8, conf.Forwarding.MimeTypes()[96])
	require.Equal(t, mime.MimeTypeH264, conf.Forwarding.MimeTypes()[102])
	require.Equal(t, "error", conf.Logging.ComponentLevels["pion"])
}

func TestConfig_DefaultsKept(t *testing.T) {
	const content = `forwarding:
  latency_budget: 10ms
status:
  address: localhost:6379`
	conf, err := NewConfig(content, true, nil, nil)
	require.NoError(t, err)

	require.Equal(t, 10*time.Millisecond, conf.Forwarding.LatencyBudget)
	require.Equal(t, time.Millisecond, conf.Forwarding.TickInterval)
	require.Equal(t, "localhost:6379", conf.Status.Address)
	require.Equal(t, 5*time.Second, conf.Status.Interval)
	require.Len(t, conf.Forwarding.PayloadTypes, 5)

	// the returned config does not share the default map
	conf.Forwarding.PayloadTypes[111] = "video/VP8"
	delete(conf.Forwarding.PayloadTypes, 96)
	require.NotContains(t, DefaultConfig.Forwarding.PayloadTypes, uint8(111))
	require.Contains(t, DefaultConfig.Forwarding.PayloadTypes, uint8(96))
}

func TestConfig_PayloadTypesReplaced(t *testing.T) {
	const content = `forwarding:
  payload_types:
    97: vp9
    111: video/H264`
	conf, err := NewConfig(content, true, nil, nil)
	require.NoError(t, err)

	require.Equal(t, map[uint8]mime.MimeType{
		97:  mime.MimeTypeVP9,
		111: mime.MimeTypeH264,
	}, conf.Forwarding.MimeTypes())
}

func TestConfig_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{
			name:    "unknown keys",
			content: "unknown: 10",
		},
		{
			name:    "zero tick interval",
			content: "forwarding:\n  tick_interval: 0s",
		},
		{
			name:    "tiny packets",
			content: "forwarding:\n  max_packet_size: 8",
		},
		{
			name:    "unknown mime type",
			content: "forwarding:\n  payload_types:\n    96: video/opus",
		},
		{
			name:    "payload type out of range",
			content: "forwarding:\n  payload_types:\n    200: vp8",
		},
		{
			name:    "status without interval",
			content: "status:\n  address: localhost:6379\n  interval: -1s",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewConfig(tc.content, true, nil, nil)
			require.Error(t, err)
		})
	}
}

func TestConfig_EnvExpansion(t *testing.T) {
	t.Setenv("ORBIT_TEST_REDIS", "redis.internal:6379")
	conf, err := NewConfig("status:\n  address: ${ORBIT_TEST_REDIS}", true, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "redis.internal:6379", conf.Status.Address)
}

func TestConfig_YAMLTags(t *testing.T) {
	require.NoError(t, configtest.CheckYAMLTags(ForwardingConfig{}))
	require.NoError(t, configtest.CheckYAMLTags(StatusConfig{}))
}

func TestGeneratedFlags(t *testing.T) {
	generatedFlags, err := GenerateCLIFlags(nil, false)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range generatedFlags {
		names[f.Names()[0]] = true
	}
	require.True(t, names["forwarding.tick_interval"])
	require.True(t, names["status.address"])
	require.True(t, names["development"])
	require.False(t, names["forwarding.payload_types"])

	app := cli.NewApp()
	app.Name = "test"
	app.Flags = []cli.Flag{
		&cli.DurationFlag{Name: "forwarding.latency_budget"},
		&cli.StringFlag{Name: "status.address"},
		&cli.Uint64Flag{Name: "prometheus_port"},
		&cli.Uint64Flag{Name: "forwarding.seq_step"},
	}

	set := flag.NewFlagSet("test", 0)
	set.Duration("forwarding.latency_budget", 20*time.Millisecond, "")
	set.String("status.address", "localhost:6379", "")
	set.Uint64("prometheus_port", 9999, "")
	set.Uint64("forwarding.seq_step", 3, "")

	c := cli.NewContext(app, set, nil)
	conf, err := NewConfig("", true, c, nil)
	require.NoError(t, err)

	require.Equal(t, 20*time.Millisecond, conf.Forwarding.LatencyBudget)
	require.Equal(t, "localhost:6379", conf.Status.Address)
	require.Equal(t, uint32(9999), conf.PrometheusPort)
	require.Equal(t, uint16(3), conf.Forwarding.SeqStep)
}

func TestExpandPath(t *testing.T) {
	t.Setenv("ORBIT_TEST_DIR", "/var/captures")
	path, err := ExpandPath("$ORBIT_TEST_DIR/a.pcap")
	require.NoError(t, err)
	require.Equal(t, "/var/captures/a.pcap", path)
}
