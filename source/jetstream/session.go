package jetstream

import (
	"context"
	"errors"
	"fmt"

	"jetstream/event"
	"jetstream/internal/logging"
	"jetstream/internal/telemetry"
)

// session is one connection: transport plus its own decompression context.
// Both die together; nothing in a session outlives a reconnect.
type session struct {
	id      int64
	url     string
	conn    Conn
	dec     *Decompressor
	decoder *event.Decoder
	disp    *Dispatcher
	filter  Filter

	stats   *counters
	metrics *telemetry.Metrics
	hooks   Hooks

	accepted int64 // events handed to the dispatcher in this session
}

// openSession dials with the tracker's latest cursor and attaches a fresh
// decompressor.
func (s *Stream) openSession(ctx context.Context) (*session, error) {
	cfg := s.client.cfg
	p := subscribeParams{
		filter:         s.filter,
		compress:       s.client.dict != nil,
		maxMessageSize: cfg.MaxMessageSize,
	}
	p.cursor, p.hasCursor = s.tracker.Current()

	u, err := subscribeURL(cfg.URL, p)
	if err != nil {
		return nil, &ConnectionError{URL: cfg.URL, Err: err}
	}
	conn, err := s.client.dialer.Dial(ctx, u)
	if err != nil {
		var ce *ConnectionError
		if !errors.As(err, &ce) {
			err = &ConnectionError{URL: u, Err: err}
		}
		return nil, err
	}

	sess := &session{
		id:      s.stats.sessions.Add(1),
		url:     u,
		conn:    conn,
		decoder: s.client.decoder,
		disp:    s.disp,
		filter:  s.filter,
		stats:   &s.stats,
		metrics: s.client.metrics,
		hooks:   s.client.hooks,
	}
	if s.client.dict != nil {
		sess.dec, err = NewDecompressor(s.client.dict, cfg.MaxMessageSize)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("jetstream: decompressor: %w", err)
		}
	}
	return sess, nil
}

// run reads until the session ends and returns why. Stopping ctx closes the
// transport, which unblocks the read.
func (sess *session) run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { sess.conn.Close() })
	defer stop()

	log := logging.L().With("session", sess.id)
	for {
		fr, err := sess.conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return &DisconnectError{Reason: ReasonStopRequested, Err: err}
			}
			return err
		}
		sess.metrics.BytesReceived(len(fr.Data), fr.Compressed)

		payload := fr.Data
		if fr.Compressed && sess.dec != nil {
			if payload, err = sess.dec.Feed(fr.Data); err != nil {
				sess.stats.frameErrors.Add(1)
				sess.metrics.FrameError()
				return &DisconnectError{Reason: ReasonFrame, Err: err}
			}
		}

		events, errs := sess.decoder.DecodeAll(payload)
		for _, derr := range errs {
			sess.stats.decodeErrors.Add(1)
			sess.metrics.DecodeError()
			sess.hooks.error(derr)
			log.Warn("jetstream: skipping malformed record", "err", derr)
		}
		for _, ev := range events {
			sess.stats.received.Add(1)
			sess.metrics.EventReceived(string(ev.Kind))
			if !sess.filter.Matches(ev.Did, ev.Collection()) {
				sess.stats.outsideFilter.Add(1)
				log.Debug("jetstream: event outside filter", "did", ev.Did, "collection", ev.Collection(), "time_us", ev.TimeUS)
			}

			err := sess.disp.Deliver(ctx, ev)
			var (
				rej *RejectedError
				bp  *BackpressureError
			)
			switch {
			case err == nil:
				sess.accepted++
			case errors.Is(err, errDuplicate):
				log.Debug("jetstream: duplicate suppressed", "time_us", ev.TimeUS)
			case errors.As(err, &rej):
				log.Debug("jetstream: event rejected", "time_us", ev.TimeUS, "err", rej.Err)
			case errors.As(err, &bp):
				log.Debug("jetstream: event dropped", "time_us", ev.TimeUS, "policy", bp.Policy)
			default:
				// stop requested while the consumer was blocked
				return &DisconnectError{Reason: ReasonStopRequested, Err: err}
			}
		}
	}
}

func (sess *session) close() {
	sess.conn.Close()
	if sess.dec != nil {
		sess.dec.Close()
	}
}
