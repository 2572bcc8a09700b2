package jetstream

import (
	"context"
	"errors"
	"sync"

	"jetstream/internal/logging"
)

// WebsocketDriver runs one Stream for a pipeline. The filter and start cursor
// come from Config.
type WebsocketDriver struct {
	cfg    Config
	client *Client

	mu     sync.Mutex
	stream *Stream
}

func (d *WebsocketDriver) Configure(cfg Config, opts ...Option) error {
	c, err := NewClient(cfg, opts...)
	if err != nil {
		return err
	}
	d.cfg, d.client = cfg, c
	return nil
}

// Run blocks until ctx ends or the stream terminates on its own.
func (d *WebsocketDriver) Run(ctx context.Context, emit EmitFunc) error {
	if d.client == nil {
		return errors.New("jetstream: driver not configured")
	}
	s, err := d.client.Subscribe(ctx, d.cfg.Filter, nil, Handler(emit))
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.stream = s
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		return s.Stop()
	case <-s.Done():
		err := s.Err()
		if err != nil {
			logging.L().Error("jetstream-driver: stream terminated", "err", err, "stats", s.Stats())
		}
		return err
	}
}

// Cursor reports the running stream's cursor.
func (d *WebsocketDriver) Cursor() (int64, bool) {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s == nil {
		return 0, false
	}
	return s.Cursor()
}

func (d *WebsocketDriver) Close() error {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s != nil {
		return s.Stop()
	}
	return nil
}
