package jetstream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"jetstream/event"
	"jetstream/internal/logging"
	"jetstream/internal/telemetry"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateBackoff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	}
	return "invalid"
}

// Hooks are optional callbacks. They run on the stream's goroutines and must
// not block for long.
type Hooks struct {
	OnStateChange func(from, to State)
	// OnCheckpoint hands out the cursor for persistence, at most once per
	// checkpoint.commit_interval and once more on stop.
	OnCheckpoint func(cursor int64)
	// OnError sees every absorbed error: decode, drop, rejection, session end.
	OnError func(err error)
}

func (h Hooks) stateChange(from, to State) {
	if h.OnStateChange != nil {
		h.OnStateChange(from, to)
	}
}

func (h Hooks) checkpoint(cursor int64) {
	if h.OnCheckpoint != nil {
		h.OnCheckpoint(cursor)
	}
}

func (h Hooks) error(err error) {
	if h.OnError != nil && err != nil {
		h.OnError(err)
	}
}

type Option func(*Client)

// WithDialer replaces the websocket transport.
func WithDialer(d Dialer) Option { return func(c *Client) { c.dialer = d } }

// WithMetrics records stream activity into m.
func WithMetrics(m *telemetry.Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithDictionary enables compression with an already loaded dictionary.
func WithDictionary(d *Dictionary) Option { return func(c *Client) { c.dict = d } }

func WithHooks(h Hooks) Option { return func(c *Client) { c.hooks = h } }

// WithDecoder uses a decoder with extra kinds registered.
func WithDecoder(d *event.Decoder) Option { return func(c *Client) { c.decoder = d } }

// Client holds validated configuration shared by its streams.
type Client struct {
	cfg     Config
	dialer  Dialer
	dict    *Dictionary
	metrics *telemetry.Metrics
	hooks   Hooks
	decoder *event.Decoder
}

// NewClient validates cfg and loads the compression dictionary. Every error
// is a *FatalConfigError. cfg is used as given; start from DefaultConfig.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg}
	for _, o := range opts {
		o(c)
	}
	if c.dict == nil && cfg.Compression.Enabled {
		if cfg.Compression.DictionaryPath == "" {
			return nil, fatalf("compression.dictionary_path", "required when compression is enabled")
		}
		d, err := LoadDictionary(cfg.Compression.DictionaryPath)
		if err != nil {
			return nil, &FatalConfigError{Field: "compression.dictionary_path", Reason: "unreadable", Err: err}
		}
		c.dict = d
	}
	if c.dialer == nil {
		c.dialer = newWebsocketDialer(cfg)
	}
	if c.decoder == nil {
		c.decoder = event.NewDecoder()
	}
	return c, nil
}

func (c *Client) Config() Config { return c.cfg }

// Subscribe starts a stream. A nil cursor falls back to the configured
// cursor, and 0 there means the live tail. Invalid arguments return a
// *FatalConfigError and nothing is started. The stream runs until Stop,
// ctx cancellation, or retry exhaustion.
func (c *Client) Subscribe(ctx context.Context, filter Filter, cursor *int64, onEvent Handler) (*Stream, error) {
	if onEvent == nil {
		return nil, fatalf("handler", "nil")
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	start := c.cfg.Cursor
	if cursor != nil {
		if *cursor < 0 {
			return nil, fatalf("cursor", "negative value %d", *cursor)
		}
		start = *cursor
	}

	s := &Stream{
		client:  c,
		filter:  filter,
		tracker: NewTracker(start, c.cfg.Checkpoint.CommitInt),
		done:    make(chan struct{}),
	}
	s.disp = newDispatcher(c.cfg.BackPressure, onEvent, s.tracker, c.hooks, c.metrics, &s.stats)
	s.ctx, s.cancel = context.WithCancel(ctx)

	logging.L().Info("jetstream: subscribing",
		"url", c.cfg.URL,
		"collections", len(filter.Collections),
		"dids", len(filter.DIDs),
		"cursor", start,
		"policy", c.cfg.BackPressure.Policy,
		"compress", c.dict != nil)
	go s.run()
	return s, nil
}

// Stream is one subscription. All methods are safe for concurrent use.
type Stream struct {
	client  *Client
	filter  Filter
	tracker *Tracker
	disp    *Dispatcher
	stats   counters
	state   atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error // written once before done closes
}

func (s *Stream) newBackOff() *backoff.ExponentialBackOff {
	r := s.client.cfg.Reconnect
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.InitialInterval
	b.MaxInterval = r.MaxInterval
	b.Multiplier = r.Multiplier
	b.RandomizationFactor = r.Jitter
	b.Reset()
	return b
}

func (s *Stream) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	logging.L().Debug("jetstream: state", "from", from, "to", to)
	s.client.hooks.stateChange(from, to)
}

func (s *Stream) run() {
	log := logging.L()
	bo := s.newBackOff()
	maxRetries := s.client.cfg.Reconnect.MaxRetries
	failures := 0

	for {
		s.setState(StateConnecting)
		sess, err := s.openSession(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				s.finish(nil)
				return
			}
			s.stats.connectionErrors.Add(1)
			s.client.metrics.ConnectionError()
			s.client.hooks.error(err)
			log.Warn("jetstream: connect failed", "err", err, "attempt", failures+1)
		} else {
			if sess.id > 1 {
				s.client.metrics.Reconnect()
			}
			s.setState(StateStreaming)
			s.client.metrics.Connected(true)
			log.Info("jetstream: session open", "session", sess.id)

			err = sess.run(s.ctx)
			sess.close()
			s.client.metrics.Connected(false)
			if s.ctx.Err() != nil {
				s.finish(nil)
				return
			}
			if sess.accepted > 0 {
				failures = 0
				bo.Reset()
			}
			if !sessionLevel(err) {
				err = &DisconnectError{Reason: ReasonReset, Err: err}
			}
			s.client.hooks.error(err)
			cursor, _ := s.tracker.Current()
			log.Warn("jetstream: session ended", "session", sess.id, "err", err, "cursor", cursor)
		}

		s.setState(StateDisconnected)
		failures++
		if maxRetries > 0 && failures > maxRetries {
			log.Error("jetstream: giving up", "failures", failures)
			s.finish(ErrRetriesExhausted)
			return
		}

		s.setState(StateBackoff)
		wait := bo.NextBackOff()
		if wait < 0 {
			wait = s.client.cfg.Reconnect.MaxInterval
		}
		t := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			t.Stop()
			s.finish(nil)
			return
		case <-t.C:
		}
	}
}

// finish drains the dispatcher, hands out the final checkpoint and marks the
// stream stopped.
func (s *Stream) finish(err error) {
	s.disp.Close(s.client.cfg.BackPressure.DrainTimeout)
	if c, ok := s.tracker.Checkpoint(); ok {
		s.client.hooks.checkpoint(c)
	}
	s.err = err
	s.setState(StateStopped)
	s.cancel()
	cursor, _ := s.tracker.Current()
	logging.L().Info("jetstream: stream stopped", "cursor", cursor, "err", err)
	close(s.done)
}

// Stop ends the stream and waits for it. The cursor stays readable.
func (s *Stream) Stop() error {
	s.cancel()
	<-s.done
	return s.err
}

// Cursor returns the time_us of the last event the consumer accepted.
func (s *Stream) Cursor() (int64, bool) { return s.tracker.Current() }

// Done closes when the stream has terminated.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err is nil while running and after Stop, ErrRetriesExhausted otherwise.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Stream) State() State { return State(s.state.Load()) }

func (s *Stream) Stats() Stats { return s.stats.snapshot() }

// Pending is the number of events queued for the consumer.
func (s *Stream) Pending() int { return s.disp.Pending() }
