package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"jetstream/event"
	"jetstream/source/jetstream"
)

type fakeSource struct {
	cfg    jetstream.Config
	events []*event.Event
	closed bool

	mu       sync.Mutex
	rejected []error
}

func (f *fakeSource) Configure(cfg jetstream.Config, _ ...jetstream.Option) error {
	f.cfg = cfg
	return nil
}

func (f *fakeSource) Run(ctx context.Context, emit jetstream.EmitFunc) error {
	for _, ev := range f.events {
		if err := emit(ctx, ev); err != nil {
			f.mu.Lock()
			f.rejected = append(f.rejected, err)
			f.mu.Unlock()
		}
	}
	<-ctx.Done()
	return nil
}

func (f *fakeSource) Close() error { f.closed = true; return nil }

var lastFake *fakeSource

func init() {
	jetstream.Register("fake", func() jetstream.Adapter {
		lastFake = &fakeSource{}
		return lastFake
	})
}

type captureSink struct {
	mu     sync.Mutex
	pushed []*event.Event
	fail   func(*event.Event) error
	closed bool
}

func (c *captureSink) Configure(any) error { return nil }
func (c *captureSink) Push(_ context.Context, ev *event.Event) error {
	if c.fail != nil {
		if err := c.fail(ev); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.pushed = append(c.pushed, ev)
	c.mu.Unlock()
	return nil
}
func (c *captureSink) Close() error { c.closed = true; return nil }

func (c *captureSink) times() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int64
	for _, ev := range c.pushed {
		out = append(out, ev.TimeUS)
	}
	return out
}

func identity(ts int64) *event.Event {
	return &event.Event{Did: "did:plc:a", TimeUS: ts, Kind: event.KindIdentity, Identity: &event.Identity{Did: "did:plc:a"}}
}

func TestRunner_FansOutInOrder(t *testing.T) {
	r := NewRunner()
	a, b := &captureSink{}, &captureSink{}
	r.AddSink(a)
	r.AddSink(b)

	for _, ts := range []int64{1, 2, 3} {
		if err := r.pushEvent(context.Background(), identity(ts)); err != nil {
			t.Fatalf("pushEvent: %v", err)
		}
	}
	for _, s := range []*captureSink{a, b} {
		if got := s.times(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
			t.Fatalf("sink saw %v", got)
		}
	}
}

func TestRunner_SinkFailureRejects(t *testing.T) {
	r := NewRunner()
	first := &captureSink{fail: func(ev *event.Event) error {
		if ev.TimeUS == 2 {
			return errors.New("full")
		}
		return nil
	}}
	second := &captureSink{}
	r.AddSink(first)
	r.AddSink(second)

	src := &fakeSource{events: []*event.Event{identity(1), identity(2), identity(3)}}
	r.SetSource(src)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(second.times()) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := second.times(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("second sink saw %v, want [1 3]", got)
	}
	if len(src.rejected) != 1 || !strings.Contains(src.rejected[0].Error(), "sink 0") {
		t.Fatalf("rejections %v", src.rejected)
	}
	if !src.closed || !first.closed || !second.closed {
		t.Fatal("Close did not reach source and sinks")
	}
}

func TestRunner_StartWithoutSource(t *testing.T) {
	if err := NewRunner().Start(context.Background()); err == nil {
		t.Fatal("expected error without a source")
	}
}

func writePipeline(t *testing.T, dir, pipeline, source string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "source.yml"), []byte(source), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	p := filepath.Join(dir, "pipeline.yml")
	if err := os.WriteFile(p, []byte(pipeline), 0o644); err != nil {
		t.Fatalf("write pipeline: %v", err)
	}
	return p
}

func TestCompile_CursorFileResumes(t *testing.T) {
	dir := t.TempDir()
	if err := (cursorFile{path: filepath.Join(dir, "cursor")}).Save(5000); err != nil {
		t.Fatalf("Save: %v", err)
	}
	p := writePipeline(t, dir, `
source: { kind: jetstream, driver: fake, config: source.yml, cursor_file: cursor }
sinks: [stdout]
`, "cursor: 1000\n")

	r, err := Compile(p, Options{Stdout: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer r.Close()
	if lastFake.cfg.Cursor != 5000 {
		t.Fatalf("source cursor = %d, want 5000 from cursor file", lastFake.cfg.Cursor)
	}
	if len(r.sinks) != 1 {
		t.Fatalf("sinks = %d", len(r.sinks))
	}
}

func TestCompile_Errors(t *testing.T) {
	cases := map[string]string{
		"source kind": "source: { kind: kafka, driver: fake, config: source.yml }\nsinks: [stdout]\n",
		"driver":      "source: { kind: jetstream, driver: nope, config: source.yml }\nsinks: [stdout]\n",
		"sink":        "source: { kind: jetstream, driver: fake, config: source.yml }\nsinks: [s3]\n",
		"kafka cfg":   "source: { kind: jetstream, driver: fake, config: source.yml }\nsinks: [kafka]\n",
	}
	for name, pipe := range cases {
		p := writePipeline(t, t.TempDir(), pipe, "")
		if _, err := Compile(p, Options{}); err == nil {
			t.Fatalf("%s: expected compile error", name)
		}
	}
}

func TestCursorFile_RoundTrip(t *testing.T) {
	c := cursorFile{path: filepath.Join(t.TempDir(), "nested", "cursor")}
	if _, ok, err := c.Load(); err != nil || ok {
		t.Fatalf("Load on missing file = %v, %v", ok, err)
	}
	if err := c.Save(1725911162329308); err != nil {
		t.Fatalf("Save: %v", err)
	}
	v, ok, err := c.Load()
	if err != nil || !ok || v != 1725911162329308 {
		t.Fatalf("Load = %d,%v,%v", v, ok, err)
	}
	if err := os.WriteFile(c.path, []byte("yesterday"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := c.Load(); err == nil {
		t.Fatal("expected error for garbage cursor file")
	}
}

// syncBuffer is a goroutine-safe bytes.Buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), "\n")
}

func TestPipeline_WebsocketToStdoutPersistsCursor(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for _, ts := range []int64{100, 200} {
			line := fmt.Sprintf(`{"did":"did:plc:a","time_us":%d,"kind":"identity","identity":{"did":"did:plc:a","handle":"a.test","seq":%d,"time":"2024-09-09T19:46:02.102Z"}}`, ts, ts)
			c.WriteMessage(websocket.TextMessage, []byte(line))
		}
		c.ReadMessage()
	}))
	defer srv.Close()

	dir := t.TempDir()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/subscribe"
	p := writePipeline(t, dir, `
schema_version: v1
source: { kind: jetstream, driver: websocket, config: source.yml, cursor_file: cursor }
sinks: [stdout]
debug: { print_counter: true }
`, "url: "+wsURL+"\ncheckpoint:\n  commit_interval: 1h\n")

	out := &syncBuffer{}
	var (
		mu     sync.Mutex
		states []jetstream.State
	)
	r, err := Compile(p, Options{
		Stdout:        out,
		OnStateChange: func(_, to jetstream.State) { mu.Lock(); states = append(states, to); mu.Unlock() },
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for out.lines() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := out.lines(); n != 2 {
		t.Fatalf("stdout lines = %d, want 2", n)
	}

	v, ok, err := (cursorFile{path: filepath.Join(dir, "cursor")}).Load()
	if err != nil || !ok || v != 200 {
		t.Fatalf("persisted cursor = %d,%v,%v want 200", v, ok, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[1] != jetstream.StateStreaming || states[len(states)-1] != jetstream.StateStopped {
		t.Fatalf("states = %v", states)
	}
}
