package config

import (
	"fmt"

	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Options are the process-level settings of the jetstream binary.
type Options struct {
	Pipeline    string `long:"pipeline" short:"p" env:"JETSTREAM_PIPELINE" default:"pipeline.yml" description:"Pipeline YAML (source, sinks, debug)"`
	GRPCPort    int    `long:"grpc-port" env:"JETSTREAM_GRPC_PORT" default:"7070" description:"gRPC health service port"`
	MetricsPort int    `long:"metrics-port" env:"JETSTREAM_METRICS_PORT" default:"9100" description:"Prometheus /metrics port"`
	LogLevel    string `long:"log-level" env:"JETSTREAM_LOG_LEVEL" default:"info" description:"debug, info, warn or error"`
	LogJSON     bool   `long:"log-json" env:"JETSTREAM_LOG_JSON" description:"Emit JSON logs"`
	HealthCheck bool   `long:"healthcheck" description:"Query a running engine's health service and exit"`
}

// ParseOptions loads .env (if present) and parses args over it.
func ParseOptions(args []string) (Options, error) {
	_ = godotenv.Load()
	opts := Options{}
	if _, err := flags.ParseArgs(&opts, args); err != nil {
		return Options{}, err
	}
	if opts.GRPCPort <= 0 || opts.GRPCPort > 65535 {
		return Options{}, fmt.Errorf("grpc port %d out of range", opts.GRPCPort)
	}
	if opts.MetricsPort < 0 || opts.MetricsPort > 65535 {
		return Options{}, fmt.Errorf("metrics port %d out of range", opts.MetricsPort)
	}
	return opts, nil
}
