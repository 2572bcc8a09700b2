package jetstream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Frame is one transport message. Compressed frames are zstd; the others are
// plain newline-delimited JSON.
type Frame struct {
	Data       []byte
	Compressed bool
}

// Conn is an established session transport. ReadFrame blocks until a frame
// arrives or the session ends with a *DisconnectError. Close may be called
// from any goroutine and unblocks ReadFrame.
type Conn interface {
	ReadFrame() (Frame, error)
	Close() error
}

// Dialer opens a session transport for a fully built subscribe URL. Errors
// should be *ConnectionError.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer connects with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // 0 disables read deadlines
	PingInterval     time.Duration // 0 disables pings
	MaxMessageSize   int64
	Header           http.Header
}

func newWebsocketDialer(cfg Config) *WebsocketDialer {
	return &WebsocketDialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadTimeout:      cfg.ReadTimeout,
		PingInterval:     cfg.PingInterval,
		MaxMessageSize:   cfg.MaxMessageSize,
		Header:           http.Header{"User-Agent": []string{"jetstream-go"}},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	c, resp, err := wd.DialContext(ctx, rawURL, d.Header)
	if err != nil {
		ce := &ConnectionError{URL: rawURL, Err: err}
		if resp != nil {
			ce.StatusCode = resp.StatusCode
			resp.Body.Close()
		}
		return nil, ce
	}
	return newWSConn(c, d.ReadTimeout, d.PingInterval, d.MaxMessageSize), nil
}

type wsConn struct {
	c           *websocket.Conn
	readTimeout time.Duration

	closing   atomic.Bool
	closeOnce sync.Once
	stop      chan struct{}
}

func newWSConn(c *websocket.Conn, readTimeout, ping time.Duration, maxSize int64) *wsConn {
	w := &wsConn{c: c, readTimeout: readTimeout, stop: make(chan struct{})}
	if maxSize > 0 {
		c.SetReadLimit(maxSize)
	}
	w.extendDeadline()
	c.SetPongHandler(func(string) error {
		w.extendDeadline()
		return nil
	})
	if ping > 0 {
		go w.pingLoop(ping)
	}
	return w
}

func (w *wsConn) extendDeadline() {
	if w.readTimeout > 0 {
		_ = w.c.SetReadDeadline(time.Now().Add(w.readTimeout))
	}
}

func (w *wsConn) pingLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			if err := w.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (w *wsConn) ReadFrame() (Frame, error) {
	for {
		mt, data, err := w.c.ReadMessage()
		if err != nil {
			return Frame{}, w.disconnect(err)
		}
		w.extendDeadline()
		switch mt {
		case websocket.BinaryMessage:
			return Frame{Data: data, Compressed: true}, nil
		case websocket.TextMessage:
			return Frame{Data: data}, nil
		}
	}
}

func (w *wsConn) disconnect(err error) *DisconnectError {
	if w.closing.Load() {
		return &DisconnectError{Reason: ReasonStopRequested, Err: err}
	}
	var (
		ce *websocket.CloseError
		ne net.Error
	)
	switch {
	case errors.As(err, &ce):
		if ce.Code == websocket.CloseAbnormalClosure {
			return &DisconnectError{Reason: ReasonReset, Err: err}
		}
		if ce.Code == websocket.CloseProtocolError || ce.Code == websocket.CloseUnsupportedData ||
			ce.Code == websocket.CloseMessageTooBig {
			return &DisconnectError{Reason: ReasonProtocol, Err: err}
		}
		return &DisconnectError{Reason: ReasonClosed, Err: err}
	case errors.Is(err, websocket.ErrReadLimit):
		return &DisconnectError{Reason: ReasonProtocol, Err: err}
	case errors.As(err, &ne) && ne.Timeout():
		return &DisconnectError{Reason: ReasonTimeout, Err: err}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, net.ErrClosed):
		return &DisconnectError{Reason: ReasonReset, Err: err}
	case errors.As(err, &ne):
		return &DisconnectError{Reason: ReasonReset, Err: err}
	default:
		return &DisconnectError{Reason: ReasonProtocol, Err: err}
	}
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.closing.Store(true)
		close(w.stop)
		_ = w.c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = w.c.Close()
	})
	return err
}
