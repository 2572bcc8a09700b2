package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"jetstream/event"
	"jetstream/sink"
	"jetstream/source/jetstream"
)

type Runner struct {
	source jetstream.Adapter
	sinks  []sink.Adapter

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func NewRunner() *Runner { return &Runner{} }

func (r *Runner) AddSink(s sink.Adapter)        { r.sinks = append(r.sinks, s) }
func (r *Runner) SetSource(s jetstream.Adapter) { r.source = s }

/*──────── event routing ───────*/

// pushEvent hands ev to every sink in order. The first failure rejects the
// event, which keeps the source cursor from moving past it.
func (r *Runner) pushEvent(ctx context.Context, ev *event.Event) error {
	for i, s := range r.sinks {
		if err := s.Push(ctx, ev); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

func (r *Runner) Start(ctx context.Context) error {
	if r.source == nil {
		return errors.New("runner: no source configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		return errors.New("runner: already started")
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		r.err = r.source.Run(ctx, r.pushEvent)
	}()
	return nil
}

// Done closes when the source stops, either on Close or on a terminal
// stream error.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Err is the source's terminal error, valid after Done closes.
func (r *Runner) Err() error {
	<-r.Done()
	return r.err
}

// Close stops the source, waits for it and closes every sink.
func (r *Runner) Close() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	var errs []error
	if r.source != nil {
		errs = append(errs, r.source.Close())
	}
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
