package jetstream

import (
	"context"

	"jetstream/event"
)

// EmitFunc receives every delivered event. Returning an error rejects it.
type EmitFunc func(context.Context, *event.Event) error

// Adapter is the pipeline-facing view of a feed source.
type Adapter interface {
	Configure(Config, ...Option) error
	Run(context.Context, EmitFunc) error
	Close() error
}
