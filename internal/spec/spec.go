package spec

type KafkaSink struct {
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	RequiredAcks int16    `yaml:"required_acks"`
	Version      string   `yaml:"version"`
	Encoding     string   `yaml:"encoding"` // json|proto
}

type sinkConfigs struct {
	Kafka KafkaSink `yaml:"kafka"`
}

type debugSection struct {
	PerEventDelayMS int  `yaml:"per_event_delay_ms"`
	PrintCounter    bool `yaml:"print_counter"`
	PrintValue      bool `yaml:"print_value"`
	ValueMaxBytes   int  `yaml:"value_max_bytes"`
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Source struct {
		Kind   string `yaml:"kind"`   // "jetstream"
		Driver string `yaml:"driver"` // "websocket"
		Config string `yaml:"config"`
		// Cursor persistence across restarts; empty keeps it in memory only.
		CursorFile string `yaml:"cursor_file"`
	} `yaml:"source"`

	Sinks       []string     `yaml:"sinks"`
	SinkConfigs sinkConfigs  `yaml:"sink_configs"`
	Debug       debugSection `yaml:"debug"`
}
