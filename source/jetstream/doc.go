// Package jetstream is a client for a Jetstream firehose: a websocket feed of
// newline-delimited JSON events, optionally zstd-compressed against a shared
// dictionary.
//
// A Stream keeps one session open at a time. Every session gets its own
// decompression context, and every reconnect resumes from the time_us of the
// last event the consumer accepted. Events at or before that cursor are
// dropped as duplicates. Events reach the Handler in transport order, either
// in-line (PolicyBlock) or through a bounded queue that sheds load
// (PolicyDropOldest, PolicyDropNewest).
//
//	cfg := jetstream.DefaultConfig()
//	c, err := jetstream.NewClient(cfg)
//	...
//	s, err := c.Subscribe(ctx, jetstream.Filter{Collections: []string{"app.bsky.feed.post"}}, nil,
//		func(ctx context.Context, ev *event.Event) error { ...; return nil })
//	...
//	defer s.Stop()
package jetstream
