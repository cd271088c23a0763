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

package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/frostbyte73/core"
	"github.com/livekit/protocol/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"github.com/orbit-rtc/orbit-forwarder/pkg/config"
	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu"
	"github.com/orbit-rtc/orbit-forwarder/pkg/telemetry/prometheus"
)

// StatusSink stores the latest status snapshot of a node.
type StatusSink interface {
	Publish(ctx context.Context, nodeID string, data []byte) error
}

type StatusReporterParams struct {
	NodeID   string
	Interval time.Duration
	Provider StatusProvider
	Sink     StatusSink
	Logger   logger.Logger
}

// StatusReport is the document published for every node.
type StatusReport struct {
	NodeID    string                `json:"nodeId"`
	UpdatedAt int64                 `json:"updatedAt"`
	Node      *prometheus.NodeStats `json:"node,omitempty"`
	Status    sfu.EngineStatus      `json:"status"`
}

// StatusReporter periodically publishes the forwarding status so sessions and dashboards can see
// who watches whom on every node.
type StatusReporter struct {
	params StatusReporterParams
	logger logger.Logger

	published atomic.Uint64
	started   atomic.Bool
	stop      core.Fuse
	done      core.Fuse
}

func NewStatusReporter(params StatusReporterParams) (*StatusReporter, error) {
	if params.Provider == nil || params.Sink == nil {
		return nil, ErrNoStatusProvider
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	if params.Interval <= 0 {
		params.Interval = config.DefaultConfig.Status.Interval
	}
	return &StatusReporter{
		params: params,
		logger: params.Logger.WithValues("nodeID", params.NodeID),
	}, nil
}

func (r *StatusReporter) Start() error {
	if r.stop.IsBroken() {
		return ErrReporterStopped
	}
	if r.started.Swap(true) {
		return ErrAlreadyRunning
	}

	go r.worker()
	return nil
}

// Stop publishes a last snapshot and waits for the worker to exit.
func (r *StatusReporter) Stop() {
	r.stop.Break()
	if r.started.Load() {
		<-r.done.Watch()
	}
}

func (r *StatusReporter) Published() uint64 {
	return r.published.Load()
}

func (r *StatusReporter) worker() {
	defer r.done.Break()

	ticker := time.NewTicker(r.params.Interval)
	defer ticker.Stop()

	r.publish()
	for {
		select {
		case <-r.stop.Watch():
			r.publish()
			return

		case <-ticker.C:
			r.publish()
		}
	}
}

func (r *StatusReporter) publish() {
	report := StatusReport{
		NodeID:    r.params.NodeID,
		UpdatedAt: time.Now().UnixMilli(),
		Status:    r.params.Provider.Status(),
	}
	if stats, err := prometheus.GetNodeStats(); err != nil {
		r.logger.Debugw("could not sample node stats", "error", err)
	} else {
		report.Node = &stats
	}

	data, err := json.Marshal(report)
	if err != nil {
		r.logger.Errorw("could not marshal status", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.params.Interval)
	defer cancel()
	if err := r.params.Sink.Publish(ctx, r.params.NodeID, data); err != nil {
		r.logger.Warnw("could not publish status", err)
		return
	}
	r.published.Inc()
}

// -------------------------------------

// RedisStatusSink keeps one hash field per node under KeyPrefix, plus a per node heartbeat key
// that expires when the node stops reporting.
type RedisStatusSink struct {
	rc        redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

func NewRedisStatusSink(rc redis.UniversalClient, conf config.StatusConfig) *RedisStatusSink {
	return &RedisStatusSink{
		rc:        rc,
		keyPrefix: conf.KeyPrefix,
		ttl:       conf.TTL,
	}
}

// NewRedisClient connects to the configured status redis and verifies it is reachable.
func NewRedisClient(ctx context.Context, conf config.StatusConfig) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:     conf.Address,
		Username: conf.Username,
		Password: conf.Password,
		DB:       conf.DB,
	})
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, err
	}
	return rc, nil
}

func (s *RedisStatusSink) StatusKey() string {
	return s.keyPrefix
}

func (s *RedisStatusSink) HeartbeatKey(nodeID string) string {
	return s.keyPrefix + ":heartbeat:" + nodeID
}

func (s *RedisStatusSink) Publish(ctx context.Context, nodeID string, data []byte) error {
	_, err := s.rc.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.StatusKey(), nodeID, data)
		p.Set(ctx, s.HeartbeatKey(nodeID), time.Now().UnixMilli(), s.ttl)
		return nil
	})
	return err
}

// Load returns the last published report of nodeID.
func (s *RedisStatusSink) Load(ctx context.Context, nodeID string) (*StatusReport, error) {
	data, err := s.rc.HGet(ctx, s.StatusKey(), nodeID).Bytes()
	if err != nil {
		return nil, err
	}

	var report StatusReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}
	return &report, nil
}
