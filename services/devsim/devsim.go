// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// devsim simulates an IoT device which provisions itself through the Azure Device Provisioning
// Service and sends temperature and humidity telemetry to its IoT hub.
//
// use DEVICE_ID=sim-001 ID_SCOPE=0ne00ABCDEF GROUP_PRIMARY_KEY=<base64 key> devsim
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/relabs-tech/devsim/core/logger"
	"github.com/relabs-tech/devsim/core/status"
	"github.com/relabs-tech/devsim/iot"
	"github.com/relabs-tech/devsim/iot/device"
	"github.com/relabs-tech/devsim/iot/simulator"
)

// Service holds the ambient configuration for this service
type Service struct {
	LogLevel   string `env:"LOG_LEVEL,default=info" description:"the log level: trace, debug, info, warn or error"`
	StatusAddr string `env:"STATUS_ADDR" description:"address of the status listener, e.g. :8080. Empty disables it"`
}

func main() {
	os.Exit(run())
}

func run() int {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		return 1
	}
	level, err := logger.ParseLevel(service.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid LOG_LEVEL:", err)
		return 1
	}
	logger.InitLogger(level)
	rlog := logger.Default()

	fmt.Println("IoT Device Simulator")

	parameters, err := device.LoadParameters()
	if err != nil {
		rlog.WithError(err).Errorln("cannot start simulator")
		return 1
	}
	settings, err := simulator.LoadSettings()
	if err != nil {
		rlog.WithError(err).Errorln("cannot start simulator")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// a second interrupt terminates the process the default way
		<-ctx.Done()
		stop()
	}()
	ctx, _ = logger.ContextWithLogger(ctx)

	monitor := &device.Monitor{}
	if service.StatusAddr != "" {
		server := status.New(service.StatusAddr, monitor)
		if err := server.Start(); err != nil {
			rlog.WithError(err).Errorln("cannot start status listener")
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				rlog.WithError(err).Warnln("cannot shut down status listener")
			}
		}()
	}

	err = device.Run(ctx, &device.Builder{
		Parameters: parameters,
		Settings:   settings,
		Input:      os.Stdin,
		Console:    os.Stdout,
		Monitor:    monitor,
	})
	return exitCode(ctx, err)
}

// exitCode maps the outcome of a simulator run to the process exit code
func exitCode(ctx context.Context, err error) int {
	if err == nil {
		return 0
	}
	if !iot.IsFatal(err) {
		logger.FromContext(ctx).WithError(err).Warnln("simulator stopped")
		return 0
	}
	logger.FromContext(ctx).WithError(err).Errorln("simulator failed")
	return 1
}
