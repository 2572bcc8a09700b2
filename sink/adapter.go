package sink

import (
	"context"
	"fmt"

	"jetstream/event"
)

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(any) error                      // driver-specific YAML ⇒ struct
	Push(context.Context, *event.Event) error // consume one event, in order
	Close() error                             // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}
