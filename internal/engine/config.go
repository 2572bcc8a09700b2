package engine

import "github.com/prometheus/client_golang/prometheus"

type Config struct {
	GRPCPort    int    // 0 picks a free port
	MetricsPort int    // 0 disables the /metrics endpoint
	PipelineYml string // optional

	// Registerer receives the stream metrics; nil uses the default registry.
	Registerer prometheus.Registerer
}
