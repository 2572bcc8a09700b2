package jetstream

import "sync/atomic"

// Stats is a point-in-time copy of a stream's counters.
type Stats struct {
	Sessions         int64
	ConnectionErrors int64
	FrameErrors      int64
	DecodeErrors     int64
	Received         int64
	Duplicates       int64
	Delivered        int64
	Dropped          int64
	Rejected         int64
	// OutsideFilter counts received events the filter would not have
	// selected. They are still delivered.
	OutsideFilter int64
}

type counters struct {
	sessions         atomic.Int64
	connectionErrors atomic.Int64
	frameErrors      atomic.Int64
	decodeErrors     atomic.Int64
	received         atomic.Int64
	duplicates       atomic.Int64
	delivered        atomic.Int64
	dropped          atomic.Int64
	rejected         atomic.Int64
	outsideFilter    atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Sessions:         c.sessions.Load(),
		ConnectionErrors: c.connectionErrors.Load(),
		FrameErrors:      c.frameErrors.Load(),
		DecodeErrors:     c.decodeErrors.Load(),
		Received:         c.received.Load(),
		Duplicates:       c.duplicates.Load(),
		Delivered:        c.delivered.Load(),
		Dropped:          c.dropped.Load(),
		Rejected:         c.rejected.Load(),
		OutsideFilter:    c.outsideFilter.Load(),
	}
}
