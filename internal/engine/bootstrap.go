package engine

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"jetstream/internal/logging"
	"jetstream/internal/pipeline"
	"jetstream/internal/telemetry"
	"jetstream/internal/transport"
	"jetstream/source/jetstream"
)

func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	// 1. transport server
	srv, err := transport.StartServer(cfg.GRPCPort)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	// 2. metrics
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metrics, err := telemetry.NewMetrics(reg)
	if err != nil {
		srv.Stop()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	// 3. pipeline runner; health follows the stream
	var runner *pipeline.Runner
	if cfg.PipelineYml != "" {
		runner, err = pipeline.Compile(cfg.PipelineYml, pipeline.Options{
			Metrics: metrics,
			OnStateChange: func(_, to jetstream.State) {
				srv.SetServing(to == jetstream.StateStreaming)
			},
		})
		if err != nil {
			srv.Stop()
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		if err := runner.Start(ctx); err != nil {
			srv.Stop()
			return nil, err
		}
	} else {
		srv.SetServing(true)
	}

	if cfg.MetricsPort > 0 {
		telemetry.Expose(cfg.MetricsPort)
	}
	logging.L().Info("engine: started", "grpc", srv.Addr().String(), "metrics_port", cfg.MetricsPort, "pipeline", cfg.PipelineYml)

	return &Engine{
		transport: srv,
		runner:    runner,
	}, nil
}
