package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"jetstream/internal/config"
	"jetstream/internal/engine"
	"jetstream/internal/logging"
	"jetstream/internal/transport"
)

func main() {
	logging.InitFromEnv()
	opts, err := config.ParseOptions(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logging.Configure(logging.Options{Level: opts.LogLevel, JSON: opts.LogJSON})

	if opts.HealthCheck {
		os.Exit(healthcheck(opts.GRPCPort))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, engine.Config{
		GRPCPort:    opts.GRPCPort,
		MetricsPort: opts.MetricsPort,
		PipelineYml: opts.Pipeline,
	})
	if err != nil {
		logging.L().Error("bootstrap", "err", err)
		os.Exit(1)
	}
	if err := e.Run(ctx); err != nil {
		logging.L().Error("engine", "err", err)
		os.Exit(1)
	}
}

func healthcheck(port int) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st, err := transport.Check(ctx, transport.LocalAddr(port), transport.ServiceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(st)
	if st != healthpb.HealthCheckResponse_SERVING {
		return 1
	}
	return 0
}
