package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"jetstream/event"
)

func testEvent() *event.Event {
	return &event.Event{
		Did: "did:plc:a", TimeUS: 1500, Kind: event.KindCommit,
		Commit: &event.Commit{Operation: event.OpCreate, Collection: "app.bsky.feed.post", RKey: "k",
			Record: json.RawMessage(`{"text":"hi"}`)},
	}
}

func mockedDriver(t *testing.T, mp *mocks.AsyncProducer) *driver {
	t.Helper()
	return &driver{newProducer: func([]string, *sarama.Config) (sarama.AsyncProducer, error) { return mp, nil }}
}

func TestKafkaSink_KeyedByDIDWithHeaders(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, nil)
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(func(m *sarama.ProducerMessage) error {
		k, _ := m.Key.Encode()
		if string(k) != "did:plc:a" {
			return fmt.Errorf("key %q", k)
		}
		if m.Topic != "jetstream.events" {
			return fmt.Errorf("topic %q", m.Topic)
		}
		if len(m.Headers) != 2 || string(m.Headers[1].Value) != "app.bsky.feed.post" {
			return fmt.Errorf("headers %v", m.Headers)
		}
		v, _ := m.Value.Encode()
		var back event.Event
		if err := json.Unmarshal(v, &back); err != nil {
			return err
		}
		if back.TimeUS != 1500 {
			return fmt.Errorf("time_us %d", back.TimeUS)
		}
		return nil
	})

	d := mockedDriver(t, mp)
	if err := d.Configure(Config{Brokers: []string{"localhost:9092"}, Topic: "jetstream.events", Acks: 1}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := d.Push(context.Background(), testEvent()); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestKafkaSink_ProtoEncoding(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, nil)
	mp.ExpectInputWithCheckerFunctionAndSucceed(func(v []byte) error {
		var st structpb.Struct
		if err := proto.Unmarshal(v, &st); err != nil {
			return err
		}
		if st.Fields["did"].GetStringValue() != "did:plc:a" {
			return fmt.Errorf("did field %v", st.Fields["did"])
		}
		commit := st.Fields["commit"].GetStructValue()
		if commit.GetFields()["rkey"].GetStringValue() != "k" {
			return fmt.Errorf("commit %v", commit)
		}
		return nil
	})

	d := mockedDriver(t, mp)
	if err := d.Configure(Config{Brokers: []string{"b:9092"}, Topic: "t", Encoding: EncodingProto}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := d.Push(context.Background(), testEvent()); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestKafkaSink_ProduceErrorsAreDrained(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, nil)
	mp.ExpectInputAndFail(errors.New("broker down"))
	mp.ExpectInputAndSucceed()

	d := mockedDriver(t, mp)
	if err := d.Configure(Config{Brokers: []string{"b:9092"}, Topic: "t"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := d.Push(context.Background(), testEvent()); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestKafkaSink_ConfigureValidation(t *testing.T) {
	cases := []any{
		"not a config",
		Config{Topic: "t"},
		Config{Brokers: []string{"b:9092"}},
		Config{Brokers: []string{"b:9092"}, Topic: "t", Encoding: "avro"},
		Config{Brokers: []string{"b:9092"}, Topic: "t", Version: "not-a-version"},
	}
	for i, c := range cases {
		d := &driver{newProducer: func([]string, *sarama.Config) (sarama.AsyncProducer, error) {
			return nil, errors.New("should not be reached")
		}}
		if err := d.Configure(c); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
