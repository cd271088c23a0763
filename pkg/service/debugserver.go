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
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/livekit/protocol/logger"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/urfave/negroni/v3"
	"go.uber.org/atomic"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu"
)

const shutdownTimeout = 5 * time.Second

type StatusProvider interface {
	Status() sfu.EngineStatus
}

type DebugServerParams struct {
	Address  string
	Provider StatusProvider
	Logger   logger.Logger
}

// DebugServer exposes the forwarding state and prometheus metrics over HTTP.
type DebugServer struct {
	params     DebugServerParams
	logger     logger.Logger
	httpServer *http.Server
	running    atomic.Bool
}

func NewDebugServer(params DebugServerParams) *DebugServer {
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	s := &DebugServer{
		params: params,
		logger: params.Logger,
	}

	middlewares := []negroni.Handler{
		negroni.NewRecovery(),
		cors.New(cors.Options{
			AllowedMethods: []string{http.MethodGet},
		}),
	}
	s.httpServer = &http.Server{
		Addr:    params.Address,
		Handler: configureMiddlewares(s.newMux(), middlewares...),
	}
	return s
}

func (s *DebugServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens synchronously so address errors surface to the caller, then serves in the
// background.
func (s *DebugServer) Start() error {
	if s.running.Swap(true) {
		return ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.params.Address)
	if err != nil {
		s.running.Store(false)
		return err
	}

	s.logger.Infow("starting debug server", "address", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("debug server failed", err)
		}
	}()
	return nil
}

func (s *DebugServer) Stop() {
	if !s.running.Swap(false) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warnw("debug server shutdown failed", err)
	}
}

func (s *DebugServer) newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/forward", s.forwardHandler)
	mux.HandleFunc("/debug/forward/table", s.forwardTableHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *DebugServer) forwardHandler(w http.ResponseWriter, _ *http.Request) {
	data, err := json.Marshal(s.params.Provider.Status())
	if err != nil {
		handleError(w, http.StatusInternalServerError, fmt.Errorf("could not marshal status: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *DebugServer) forwardTableHandler(w http.ResponseWriter, _ *http.Request) {
	status := s.params.Provider.Status()

	_, _ = fmt.Fprintf(w, "master: %s, ticks: %d, in: %s, out: %s\n\n",
		status.Master,
		status.Ticks,
		humanize.Bytes(status.Packets.BytesIn),
		humanize.Bytes(status.Packets.BytesOut),
	)

	table := tablewriter.NewWriter(w)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{
		"Viewer",
		"Current",
		"Expected",
		"Out SN",
		"Out TS",
		"Frames",
		"Has Looker",
		"Dropped",
	})

	for _, v := range status.Viewers {
		source := status.Sources[v.ID]
		table.Append([]string{
			v.ID.String(),
			v.Current.String(),
			v.Expected.String(),
			fmt.Sprintf("%d", v.Context.Seq),
			fmt.Sprintf("%d", v.Context.TS),
			fmt.Sprintf("%d", source.Frames),
			fmt.Sprintf("%t", source.HasLooker),
			humanize.Comma(int64(source.Dropped)),
		})
	}
	table.Render()
}

func handleError(w http.ResponseWriter, status int, err error) {
	logger.GetLogger().Warnw("debug request failed", err, "status", status)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(err.Error()))
}

func configureMiddlewares(handler http.Handler, middlewares ...negroni.Handler) *negroni.Negroni {
	n := negroni.New()
	for _, m := range middlewares {
		n.Use(m)
	}
	n.UseHandler(handler)
	return n
}
