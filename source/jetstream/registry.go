package jetstream

import "fmt"

// Factory builds an Adapter.
type Factory func() Adapter

var registry = map[string]Factory{}

// Register is called from a driver's init() or from main.
func Register(name string, f Factory) {
	registry[name] = f
}

// NewAdapter returns a driver by name ("websocket").
func NewAdapter(name string) (Adapter, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("jetstream: unsupported driver %q", name)
}

func init() {
	Register("websocket", func() Adapter { return &WebsocketDriver{} })
}
