package jetstream

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	DefaultURL = "wss://jetstream2.us-east.bsky.network/subscribe"

	envPrefix = "JETSTREAM__"
)

type Policy string

const (
	PolicyBlock      Policy = "block"       // consumer runs in-line, nothing is lost
	PolicyDropOldest Policy = "drop_oldest" // bounded queue, evict the head
	PolicyDropNewest Policy = "drop_newest" // bounded queue, refuse the arrival
)

type ReconnectCfg struct {
	InitialInterval time.Duration `koanf:"initial_interval"`
	MaxInterval     time.Duration `koanf:"max_interval"`
	Multiplier      float64       `koanf:"multiplier"`
	Jitter          float64       `koanf:"jitter"`      // randomization factor, 0..1
	MaxRetries      int           `koanf:"max_retries"` // consecutive failures, 0 = unbounded
}

type BackPressureCfg struct {
	Policy       Policy        `koanf:"policy"`
	Capacity     int           `koanf:"capacity"`      // queued events (drop policies)
	DrainTimeout time.Duration `koanf:"drain_timeout"` // queue flush on stop
}

type CheckpointCfg struct {
	CommitInt time.Duration `koanf:"commit_interval"` // OnCheckpoint cadence
}

type CompressionCfg struct {
	Enabled        bool   `koanf:"enabled"`
	DictionaryPath string `koanf:"dictionary_path"`
}

type Config struct {
	URL    string `koanf:"url"`
	Filter Filter `koanf:"filter"`
	// Cursor is the time_us to resume from; 0 starts at the live tail.
	Cursor         int64 `koanf:"cursor"`
	MaxMessageSize int64 `koanf:"max_message_size_bytes"`

	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
	ReadTimeout      time.Duration `koanf:"read_timeout"`
	PingInterval     time.Duration `koanf:"ping_interval"`

	Compression  CompressionCfg  `koanf:"compression"`
	Reconnect    ReconnectCfg    `koanf:"reconnect"`
	BackPressure BackPressureCfg `koanf:"backpressure"`
	Checkpoint   CheckpointCfg   `koanf:"checkpoint"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadConfig merges YAML (if present) with env-vars
// (prefix `JETSTREAM__`, delimiter `__`, e.g. JETSTREAM__RECONNECT__MAX_RETRIES).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("jetstream schema_version %q not supported (want v1)", sv)
	}

	if err := k.Load(env.Provider(envPrefix, "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// DefaultConfig is the configuration used when no file is given.
func DefaultConfig() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config) {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 16 * 1024 * 1000
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.Reconnect.InitialInterval == 0 {
		c.Reconnect.InitialInterval = time.Second
	}
	if c.Reconnect.MaxInterval == 0 {
		c.Reconnect.MaxInterval = 30 * time.Second
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = 2
	}
	if c.Reconnect.Jitter == 0 {
		c.Reconnect.Jitter = 0.5
	}
	if c.BackPressure.Policy == "" {
		c.BackPressure.Policy = PolicyBlock
	}
	if c.BackPressure.Capacity == 0 {
		c.BackPressure.Capacity = 10_000
	}
	if c.BackPressure.DrainTimeout == 0 {
		c.BackPressure.DrainTimeout = 5 * time.Second
	}
	if c.Checkpoint.CommitInt == 0 {
		c.Checkpoint.CommitInt = 5 * time.Second
	}
}

// Validate reports the first problem as a *FatalConfigError.
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return &FatalConfigError{Field: "url", Reason: "unparseable", Err: err}
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fatalf("url", "scheme %q, want ws or wss", u.Scheme)
	}
	if u.Host == "" {
		return fatalf("url", "missing host")
	}
	if err := c.Filter.Validate(); err != nil {
		return err
	}
	if c.Cursor < 0 {
		return fatalf("cursor", "negative value %d", c.Cursor)
	}
	if c.MaxMessageSize < 0 {
		return fatalf("max_message_size_bytes", "negative value %d", c.MaxMessageSize)
	}
	r := c.Reconnect
	if r.InitialInterval <= 0 || r.MaxInterval < r.InitialInterval {
		return fatalf("reconnect", "intervals initial=%s max=%s", r.InitialInterval, r.MaxInterval)
	}
	if r.Multiplier < 1 {
		return fatalf("reconnect.multiplier", "%v is below 1", r.Multiplier)
	}
	if r.Jitter < 0 || r.Jitter > 1 {
		return fatalf("reconnect.jitter", "%v outside [0,1]", r.Jitter)
	}
	if r.MaxRetries < 0 {
		return fatalf("reconnect.max_retries", "negative value %d", r.MaxRetries)
	}

	switch c.BackPressure.Policy {
	case PolicyBlock:
	case PolicyDropOldest, PolicyDropNewest:
		if c.BackPressure.Capacity <= 0 {
			return fatalf("backpressure.capacity", "must be positive for %s", c.BackPressure.Policy)
		}
	default:
		return fatalf("backpressure.policy", "unknown policy %q", c.BackPressure.Policy)
	}
	return nil
}
