package config

import (
	"jetstream/source/jetstream"
)

// LoadSourceConfig delegates to the jetstream source loader while
// centralizing loader entrypoints under internal/config.
func LoadSourceConfig(path string) (jetstream.Config, error) {
	return jetstream.LoadConfig(path)
}
