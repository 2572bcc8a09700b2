package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPipelineSpec_ResolvesRelativePathsAndSchema(t *testing.T) {
	dir := t.TempDir()
	pipe := []byte(`schema_version: v1
source:
  kind: jetstream
  driver: websocket
  config: jetstream_source.yml
  cursor_file: state/cursor
sinks: [stdout, kafka]
sink_configs:
  kafka:
    brokers: [localhost:9092]
    topic: jetstream.events
    encoding: proto
debug:
  per_event_delay_ms: 5
  print_counter: true
`)
	if err := os.WriteFile(filepath.Join(dir, "pipeline.yml"), pipe, 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "jetstream_source.yml"), []byte("schema_version: v1\n"), 0o644); err != nil {
		t.Fatalf("write source cfg: %v", err)
	}

	cfg, abs, err := LoadPipelineSpec(filepath.Join(dir, "pipeline.yml"))
	if err != nil {
		t.Fatalf("LoadPipelineSpec: %v", err)
	}
	if cfg.SchemaVersion != SupportedSchema {
		t.Fatalf("want schema %s, got %s", SupportedSchema, cfg.SchemaVersion)
	}
	if abs == "" || !filepath.IsAbs(abs) {
		t.Fatalf("want absolute source config path, got %q", abs)
	}
	if want := filepath.Join(dir, "state", "cursor"); cfg.Source.CursorFile != want {
		t.Fatalf("cursor_file = %q, want %q", cfg.Source.CursorFile, want)
	}
	if cfg.SinkConfigs.Kafka.Topic != "jetstream.events" || cfg.SinkConfigs.Kafka.Encoding != "proto" {
		t.Fatalf("kafka sink = %+v", cfg.SinkConfigs.Kafka)
	}
	if cfg.Debug.PerEventDelayMS != 5 || !cfg.Debug.PrintCounter {
		t.Fatalf("debug = %+v", cfg.Debug)
	}

	src, err := LoadSourceConfig(abs)
	if err != nil {
		t.Fatalf("LoadSourceConfig: %v", err)
	}
	if src.URL == "" {
		t.Fatal("source config defaults not applied")
	}
}

func TestLoadPipelineSpec_InvalidSchema(t *testing.T) {
	dir := t.TempDir()
	pipe := []byte(`schema_version: v999
source: { kind: jetstream, driver: websocket, config: cf.yml }
sinks: [stdout]
`)
	if err := os.WriteFile(filepath.Join(dir, "pipeline.yml"), pipe, 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}
	_, _, err := LoadPipelineSpec(filepath.Join(dir, "pipeline.yml"))
	if err == nil {
		t.Fatal("expected error for invalid schema_version")
	}
}

func TestParseOptions(t *testing.T) {
	t.Setenv("JETSTREAM_METRICS_PORT", "9200")
	opts, err := ParseOptions([]string{"--pipeline", "custom.yml", "--log-json"})
	if err != nil {
		t.Fatalf("ParseOptions: %v", err)
	}
	if opts.Pipeline != "custom.yml" || !opts.LogJSON {
		t.Fatalf("opts = %+v", opts)
	}
	if opts.GRPCPort != 7070 || opts.MetricsPort != 9200 || opts.LogLevel != "info" {
		t.Fatalf("defaults/env not applied: %+v", opts)
	}

	if _, err := ParseOptions([]string{"--grpc-port", "70000"}); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
	if _, err := ParseOptions([]string{"--no-such-flag"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}
