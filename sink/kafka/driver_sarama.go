package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"jetstream/event"
	"jetstream/internal/logging"
	"jetstream/sink"
)

const (
	EncodingJSON  = "json"
	EncodingProto = "proto" // google.protobuf.Struct
)

type Config struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	Acks     int16    `yaml:"required_acks"` // 0,1,-1
	Version  string   `yaml:"version"`
	Encoding string   `yaml:"encoding"` // json|proto
}

type driver struct {
	cfg Config
	p   sarama.AsyncProducer

	// overridden in tests
	newProducer func([]string, *sarama.Config) (sarama.AsyncProducer, error)

	wg   sync.WaitGroup
	once sync.Once
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if cfg.Topic == "" || len(cfg.Brokers) == 0 {
		return fmt.Errorf("kafka-sink: brokers and topic are required")
	}
	switch cfg.Encoding {
	case "":
		cfg.Encoding = EncodingJSON
	case EncodingJSON, EncodingProto:
	default:
		return fmt.Errorf("kafka-sink: unknown encoding %q", cfg.Encoding)
	}
	d.cfg = cfg

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Errors = true
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return err
		}
		sc.Version = ver
	}

	newProducer := d.newProducer
	if newProducer == nil {
		newProducer = sarama.NewAsyncProducer
	}
	var err error
	if d.p, err = newProducer(cfg.Brokers, sc); err != nil {
		return err
	}

	d.wg.Add(1)
	go d.drainErrors()
	return nil
}

func (d *driver) drainErrors() {
	defer d.wg.Done()
	for perr := range d.p.Errors() {
		logging.L().Error("kafka-sink: produce failed", "topic", perr.Msg.Topic, "err", perr.Err)
	}
}

// Push enqueues the event keyed by DID so one account's events stay on one
// partition in feed order.
func (d *driver) Push(ctx context.Context, ev *event.Event) error {
	value, err := encode(ev, d.cfg.Encoding)
	if err != nil {
		return fmt.Errorf("kafka-sink: encode: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: d.cfg.Topic,
		Key:   sarama.StringEncoder(ev.Did),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(ev.Kind)},
			{Key: []byte("collection"), Value: []byte(ev.Collection())},
		},
	}
	select {
	case d.p.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *driver) Close() error {
	var err error
	d.once.Do(func() {
		if d.p == nil {
			return
		}
		err = d.p.Close()
		d.wg.Wait()
	})
	return err
}

func encode(ev *event.Event, encoding string) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil || encoding == EncodingJSON {
		return b, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(st)
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
