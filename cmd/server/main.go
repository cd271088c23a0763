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

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/orbit-rtc/orbit-forwarder/pkg/config"
	"github.com/orbit-rtc/orbit-forwarder/version"
)

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to orbit-forwarder config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "orbit-forwarder config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"ORBIT_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "node-id",
		Usage:   "id of this node in metrics and status reports, defaults to the hostname",
		EnvVars: []string{"ORBIT_NODE_ID"},
	},
	&cli.StringFlag{
		Name:    "redis-host",
		Usage:   "host (incl. port) of the redis server receiving status reports",
		EnvVars: []string{"REDIS_HOST"},
	},
	&cli.StringFlag{
		Name:    "redis-password",
		Usage:   "password to redis",
		EnvVars: []string{"REDIS_PASSWORD"},
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug and console formatter",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, true)
	if err != nil {
		fmt.Println(err)
	}

	app := &cli.App{
		Name:  "orbit-forwarder",
		Usage: "keyframe gated video forwarder for small calls",
		Flags: append(baseFlags, generatedFlags...),
		Commands: []*cli.Command{
			{
				Name:   "replay",
				Usage:  "replays a pcap capture through the forwarding engine and checks every viewer's stream",
				Action: replayCapture,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "capture",
						Usage:    "pcap file with the publishers' RTP",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "scenario",
						Usage:    "YAML scenario mapping SSRCs to streams and listing control calls",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "write the side tap stream to this pcap file",
					},
					&cli.StringFlag{
						Name:  "debug-addr",
						Usage: "serve /debug/forward and /metrics on this address while replaying",
					},
					&cli.BoolFlag{
						Name:  "realtime",
						Usage: "pace the replay on the wall clock",
					},
				},
			},
			{
				Name:   "print-config",
				Usage:  "prints the effective configuration",
				Action: printConfig,
			},
			{
				Name:   "help-verbose",
				Usage:  "prints app help, including all generated configuration flags",
				Action: helpVerbose,
			},
		},
		Version: version.Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString, err := getConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, err
	}

	strictMode := true
	if c.Bool("disable-strict-config") {
		strictMode = false
	}

	conf, err := config.NewConfig(confString, strictMode, c, baseFlags)
	if err != nil {
		return nil, err
	}
	config.InitLoggerFromConfig(&conf.Logging)

	return conf, nil
}

func getConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}

	path, err := config.ExpandPath(configFile)
	if err != nil {
		return "", err
	}
	outConfigBody, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	return string(outConfigBody), nil
}

func getNodeID(c *cli.Context) string {
	if id := c.String("node-id"); id != "" {
		return id
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return "orbit-forwarder"
}
