package engine

import (
	"context"
	"net"

	"jetstream/internal/logging"
	"jetstream/internal/pipeline"
	"jetstream/internal/transport"
)

type Engine struct {
	transport *transport.Server
	runner    *pipeline.Runner
}

// Addr is the gRPC listen address.
func (e *Engine) Addr() net.Addr { return e.transport.Addr() }

// Run serves until ctx ends or the pipeline stops on its own. A pipeline
// that gave up (e.g. retries exhausted) is reported as the error.
func (e *Engine) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- e.transport.Serve() }()

	var pipelineDone <-chan struct{}
	if e.runner != nil {
		pipelineDone = e.runner.Done()
	}

	var err error
	select {
	case <-ctx.Done():
	case <-pipelineDone:
		err = e.runner.Err()
		logging.L().Error("engine: pipeline stopped", "err", err)
	case err = <-serveErr:
	}

	e.transport.Stop()
	if e.runner != nil {
		if cerr := e.runner.Close(); cerr != nil {
			logging.L().Warn("engine: pipeline close", "err", cerr)
		}
	}
	return err
}
