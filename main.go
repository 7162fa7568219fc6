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

package main

import (
	"context"
	"fmt"
	"os"

	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/tigercar/CarWorker/model"
	"github.com/tigercar/CarWorker/pkg/mqtt"
	"github.com/tigercar/CarWorker/pkg/server"
	"github.com/tigercar/CarWorker/pkg/service"
	"github.com/tigercar/CarWorker/pkg/service/bridge"
)

const (
	projectName = "Tiger Car Worker"
)

var (
	projectVersion = "dev"
	projectBuild   = "dev"
)

func main() {
	var levelFlag string
	var configFile string
	var bridgeType string

	pflag.StringVarP(&levelFlag, "level", "l", "debug", "Set log level")
	pflag.StringVarP(&configFile, "config", "c", "", "Path to the configuration file")
	pflag.StringVarP(&bridgeType, "bridge", "b", "", "Type of bridge to use (rpi|virtual), overrides the configuration")
	pflag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(levelFlag); err != nil {
		Exitf("Invalid log level '%s': %v\n", levelFlag, err)
	} else {
		logger = logger.Level(level)
	}

	cfg, err := model.LoadConfig(configFile)
	if err != nil {
		Exitf("Failed to load configuration: %v\n", err)
	}

	if bridgeType == "" {
		bridgeType = cfg.Bridge
	}
	var br bridge.API
	switch bridgeType {
	case "rpi":
		br, err = bridge.NewRaspberryPiBridge()
		if err != nil {
			Exitf("Failed to initialize Raspberry Pi Bridge: %v\n", err)
		}
	case "virtual":
		br, err = bridge.NewVirtualBridge()
		if err != nil {
			Exitf("Failed to initialize Virtual Bridge: %v\n", err)
		}
	default:
		Exitf("Unknown bridge type '%s' (rpi|virtual)\n", bridgeType)
	}

	broker, err := mqtt.NewService(cfg.MQTT, logger)
	if err != nil {
		Exitf("Failed to initialize MQTT service: %v\n", err)
	}

	svc, err := service.NewService(service.Config{
		ProgramVersion: projectVersion,
		Worker:         cfg,
	}, service.Dependencies{
		Logger: logger,
		Bridge: br,
		MQTT:   broker,
	})
	if err != nil {
		Exitf("Failed to initialize Service: %v\n", err)
	}

	httpServer, err := server.New(server.Config{
		Host: cfg.HTTP.Host,
		Port: cfg.HTTP.Port,
	}, logger, svc)
	if err != nil {
		Exitf("Failed to initialize Server: %v\n", err)
	}

	// Prepare to shutdown in a controlled manor
	ctx, cancel := context.WithCancel(context.Background())
	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		logger.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()

	fmt.Printf("Starting %s (version %s build %s)\n", projectName, projectVersion, projectBuild)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	g.Go(func() error { return httpServer.Run(ctx) })
	if err := g.Wait(); err != nil && err != context.Canceled {
		Exitf("Service run failed: %#v", err)
	}
}

// Print the given error message and exit with code 1
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
