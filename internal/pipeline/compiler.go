package pipeline

import (
	"fmt"
	"io"
	"time"

	"jetstream/internal/config"
	"jetstream/internal/logging"
	"jetstream/internal/telemetry"
	"jetstream/sink"
	kafkasink "jetstream/sink/kafka"
	"jetstream/sink/stdout"
	"jetstream/source/jetstream"
)

// Options wire engine concerns into the compiled source.
type Options struct {
	Metrics       *telemetry.Metrics
	OnStateChange func(from, to jetstream.State)
	Stdout        io.Writer // stdout sink target, nil = os.Stdout
}

func Compile(path string, opts Options) (*Runner, error) {
	r := NewRunner()
	if err := LoadYAML(path, r, opts); err != nil {
		return nil, err
	}
	return r, nil
}

func LoadYAML(path string, r *Runner, opts Options) error {
	cfg, confPath, err := config.LoadPipelineSpec(path)
	if err != nil {
		return err
	}

	if cfg.Source.Kind != "jetstream" {
		return fmt.Errorf("unsupported source %q", cfg.Source.Kind)
	}
	jc, err := config.LoadSourceConfig(confPath)
	if err != nil {
		return err
	}

	var store *cursorFile
	if cfg.Source.CursorFile != "" {
		store = &cursorFile{path: cfg.Source.CursorFile}
		c, ok, err := store.Load()
		if err != nil {
			return err
		}
		if ok && c > jc.Cursor {
			jc.Cursor = c
		}
	}

	driver := cfg.Source.Driver
	if driver == "" {
		driver = "websocket"
	}
	src, err := jetstream.NewAdapter(driver)
	if err != nil {
		return err
	}
	hooks := jetstream.Hooks{
		OnStateChange: opts.OnStateChange,
		OnCheckpoint: func(cursor int64) {
			if store == nil {
				return
			}
			if err := store.Save(cursor); err != nil {
				logging.L().Error("pipeline: persist cursor", "path", store.path, "err", err)
				return
			}
			logging.L().Debug("pipeline: cursor persisted", "cursor", cursor)
		},
		OnError: func(err error) {
			logging.L().Debug("pipeline: source error", "err", err)
		},
	}
	if err = src.Configure(jc, jetstream.WithMetrics(opts.Metrics), jetstream.WithHooks(hooks)); err != nil {
		return err
	}
	r.SetSource(src)

	for _, name := range cfg.Sinks {
		sDrv, err := sink.NewAdapter(name)
		if err != nil {
			return err
		}

		switch name {
		case "stdout":
			delay := time.Duration(cfg.Debug.PerEventDelayMS) * time.Millisecond
			err = sDrv.Configure(stdout.Config{
				DelayMS:       int(delay / time.Millisecond),
				PrintCounter:  cfg.Debug.PrintCounter,
				PrintValue:    cfg.Debug.PrintValue,
				ValueMaxBytes: cfg.Debug.ValueMaxBytes,
				Out:           opts.Stdout,
			})
		case "kafka":
			k := cfg.SinkConfigs.Kafka
			err = sDrv.Configure(kafkasink.Config{
				Brokers:  k.Brokers,
				Topic:    k.Topic,
				Acks:     k.RequiredAcks,
				Version:  k.Version,
				Encoding: k.Encoding,
			})
		default:
			err = fmt.Errorf("no config block for sink %q", name)
		}
		if err != nil {
			return err
		}
		r.AddSink(sDrv)
	}
	return nil
}
