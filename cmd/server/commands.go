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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/livekit/protocol/logger"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/orbit-rtc/orbit-forwarder/pkg/config"
	"github.com/orbit-rtc/orbit-forwarder/pkg/replay"
	"github.com/orbit-rtc/orbit-forwarder/pkg/service"
	"github.com/orbit-rtc/orbit-forwarder/pkg/telemetry/prometheus"
)

var errDiscontinuous = errors.New("forwarded streams are not continuous")

func replayCapture(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	scenarioPath, err := config.ExpandPath(c.String("scenario"))
	if err != nil {
		return err
	}
	scenario, err := replay.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}

	capturePath, err := config.ExpandPath(c.String("capture"))
	if err != nil {
		return err
	}
	packets, err := replay.ReadCaptureFile(capturePath)
	if err != nil {
		return err
	}

	nodeID := getNodeID(c)
	prometheus.Init(nodeID)

	runner, err := replay.NewRunner(replay.RunnerParams{
		Scenario:   scenario,
		Packets:    packets,
		Forwarding: conf.Forwarding,
		Realtime:   c.Bool("realtime"),
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	debugAddr := c.String("debug-addr")
	if debugAddr == "" && conf.PrometheusPort != 0 {
		debugAddr = fmt.Sprintf(":%d", conf.PrometheusPort)
	}
	if debugAddr != "" {
		debugServer := service.NewDebugServer(service.DebugServerParams{
			Address:  debugAddr,
			Provider: runner.Engine(),
		})
		if err := debugServer.Start(); err != nil {
			return errors.Wrap(err, "could not start debug server")
		}
		defer debugServer.Stop()
	}

	if conf.Status.Address != "" {
		rc, err := service.NewRedisClient(ctx, conf.Status)
		if err != nil {
			return errors.Wrapf(err, "could not connect to redis at %s", conf.Status.Address)
		}
		defer rc.Close()

		reporter, err := service.NewStatusReporter(service.StatusReporterParams{
			NodeID:   nodeID,
			Interval: conf.Status.Interval,
			Provider: runner.Engine(),
			Sink:     service.NewRedisStatusSink(rc, conf.Status),
		})
		if err != nil {
			return err
		}
		if err := reporter.Start(); err != nil {
			return err
		}
		defer reporter.Stop()
	}

	logger.Infow("replaying capture",
		"capture", capturePath,
		"scenario", scenarioPath,
		"packets", len(packets),
		"streams", len(scenario.Streams),
	)
	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	report.WriteTable(os.Stdout)

	if output := c.String("output"); output != "" {
		if err := writeSideTap(output, report); err != nil {
			return err
		}
	}

	if !report.Continuous() {
		return errDiscontinuous
	}
	return nil
}

func writeSideTap(output string, report *replay.Report) error {
	path, err := config.ExpandPath(output)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "could not create %s", path)
	}
	defer f.Close()

	if err := replay.WriteCapture(f, time.Now(), report.SideTap); err != nil {
		return errors.Wrapf(err, "could not write side tap to %s", path)
	}
	logger.Infow("wrote side tap", "path", path, "packets", len(report.SideTap))
	return nil
}

func printConfig(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func helpVerbose(c *cli.Context) error {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, false)
	if err != nil {
		return err
	}

	c.App.Flags = append(baseFlags, generatedFlags...)
	return cli.ShowAppHelp(c)
}
