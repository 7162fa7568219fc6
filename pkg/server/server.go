//    Copyright 2020 Dylan Staatz
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tigercar/CarWorker/pkg/service"
)

// Config for the HTTP server.
type Config struct {
	// Host interface to listen on
	Host string
	// Port to listen on for HTTP requests
	Port int
}

// Server runs the HTTP server for the worker.
// It exposes metrics, health and a status snapshot.
type Server struct {
	Config
	log     zerolog.Logger
	service service.Service
}

// New configures a new Server.
func New(cfg Config, log zerolog.Logger, svc service.Service) (*Server, error) {
	return &Server{
		Config:  cfg,
		log:     log.With().Str("component", "server").Logger(),
		service: svc,
	}, nil
}

// statusResponse is the JSON body of the status endpoint.
type statusResponse struct {
	service.Status
	Uptime string `json:"uptime"`
}

// Run the server until the given context is canceled.
func (s *Server) Run(ctx context.Context) error {
	log := s.log
	httpAddr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on address %s: %w", httpAddr, err)
	}

	httpRouter := echo.New()
	httpRouter.HideBanner = true
	httpRouter.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	httpRouter.GET("/health", s.handleHealth)
	httpRouter.GET("/status", s.handleStatus)
	httpRouter.GET("/debug/pprof/*", echo.WrapHandler(http.HandlerFunc(pprof.Index)))
	httpSrv := http.Server{
		Handler: httpRouter,
	}

	log.Debug().Str("address", httpAddr).Msg("Serving HTTP")
	serveErrors := make(chan error, 1)
	go func() {
		if err := httpSrv.Serve(httpLis); err != nil && err != http.ErrServerClosed {
			serveErrors <- err
		}
		log.Debug().Str("address", httpAddr).Msg("Done serving HTTP")
	}()

	select {
	case err := <-serveErrors:
		return fmt.Errorf("failed to serve HTTP server: %w", err)
	case <-ctx.Done():
		log.Info().Msg("Closing server")
		return httpSrv.Shutdown(context.Background())
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK\n")
}

func (s *Server) handleStatus(c echo.Context) error {
	status := s.service.Status()
	return c.JSON(http.StatusOK, statusResponse{
		Status: status,
		Uptime: humanize.RelTime(status.StartedAt, time.Now(), "", ""),
	})
}
