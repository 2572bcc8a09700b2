// jetstream/sink/stdout/driver.go
package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"jetstream/event"
	"jetstream/sink"
)

/* ────────── public YAML config ────────── */
type Config struct {
	DelayMS       int  `yaml:"delay_ms"`        // artificial per-event delay
	PrintCounter  bool `yaml:"print_counter"`   // prepend seq#
	PrintValue    bool `yaml:"print_value"`     // whole event as JSON instead of a summary
	ValueMaxBytes int  `yaml:"value_max_bytes"` // 0 = no truncation

	Out io.Writer `yaml:"-"` // nil → os.Stdout
}

/* ────────── driver ────────── */
type driver struct {
	cfg Config
	out io.Writer

	mu  sync.Mutex // guards out+seq
	seq uint64
}

/* ────────── sink.Adapter ────────── */
func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	d.cfg = c
	d.out = c.Out
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

func (d *driver) Push(ctx context.Context, ev *event.Event) error {
	if d.cfg.DelayMS > 0 {
		t := time.NewTimer(time.Duration(d.cfg.DelayMS) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	line, err := d.format(ev)
	if err != nil {
		return fmt.Errorf("stdout-sink: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	if d.cfg.PrintCounter {
		_, err = fmt.Fprintf(d.out, "[sink %06d] %s\n", d.seq, line)
	} else {
		_, err = fmt.Fprintln(d.out, line)
	}
	return err
}

func (d *driver) Close() error { return nil }

/* ────────── internals ────────── */

func (d *driver) format(ev *event.Event) (string, error) {
	if !d.cfg.PrintValue {
		return ev.String(), nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	if n := d.cfg.ValueMaxBytes; n > 0 && len(b) > n {
		return string(b[:n]) + "…", nil
	}
	return string(b), nil
}

/* ────────── auto-register ────────── */
func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
