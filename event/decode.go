package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeError reports a single record that could not be turned into an
// Event. The stream skips the record and keeps going.
type DecodeError struct {
	Reason string
	Record []byte
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode record: %s: %v", e.Reason, e.Err)
	}
	return "decode record: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// BodyFunc fills the kind-specific part of ev from the record's top-level
// fields.
type BodyFunc func(ev *Event, fields map[string]json.RawMessage) error

var defaultBodies = map[Kind]BodyFunc{
	KindCommit:   decodeCommit,
	KindIdentity: decodeIdentity,
	KindAccount:  decodeAccount,
}

// Decoder parses records using a kind dispatch table. The zero value is not
// usable; call NewDecoder.
type Decoder struct {
	bodies map[Kind]BodyFunc
}

func NewDecoder() *Decoder {
	bodies := make(map[Kind]BodyFunc, len(defaultBodies))
	for k, f := range defaultBodies {
		bodies[k] = f
	}
	return &Decoder{bodies: bodies}
}

// Register adds or replaces the body decoder for kind. Not safe to call while
// another goroutine is decoding.
func (d *Decoder) Register(kind Kind, f BodyFunc) {
	d.bodies[kind] = f
}

// Decode parses one record.
func (d *Decoder) Decode(record []byte) (*Event, error) {
	record = bytes.TrimSpace(record)
	if len(record) == 0 {
		return nil, &DecodeError{Reason: "empty record"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil {
		return nil, &DecodeError{Reason: "invalid json", Record: bytes.Clone(record), Err: err}
	}
	if fields == nil {
		return nil, &DecodeError{Reason: "record is not an object", Record: bytes.Clone(record)}
	}

	ev := &Event{}
	var kind string
	if err := requireString(fields, "kind", &kind); err != nil {
		return nil, &DecodeError{Reason: "kind", Record: bytes.Clone(record), Err: err}
	}
	if err := requireString(fields, "did", &ev.Did); err != nil {
		return nil, &DecodeError{Reason: "did", Record: bytes.Clone(record), Err: err}
	}
	raw, ok := fields["time_us"]
	if !ok {
		return nil, &DecodeError{Reason: "time_us", Record: bytes.Clone(record), Err: errMissing}
	}
	if err := json.Unmarshal(raw, &ev.TimeUS); err != nil {
		return nil, &DecodeError{Reason: "time_us", Record: bytes.Clone(record), Err: err}
	}
	if ev.TimeUS <= 0 {
		return nil, &DecodeError{Reason: "time_us", Record: bytes.Clone(record), Err: fmt.Errorf("non-positive value %d", ev.TimeUS)}
	}

	body, known := d.bodies[Kind(kind)]
	if !known {
		ev.Kind = KindUnknown
		ev.Unknown = &Unknown{Kind: kind, Fields: fields}
		return ev, nil
	}
	ev.Kind = Kind(kind)
	if err := body(ev, fields); err != nil {
		return nil, &DecodeError{Reason: kind + " body", Record: bytes.Clone(record), Err: err}
	}
	return ev, nil
}

// DecodeAll splits a payload into newline-delimited records and decodes each
// one. Records that fail are reported in errs and skipped; order is kept.
func (d *Decoder) DecodeAll(payload []byte) (events []*Event, errs []error) {
	for len(payload) > 0 {
		var line []byte
		if i := bytes.IndexByte(payload, '\n'); i >= 0 {
			line, payload = payload[:i], payload[i+1:]
		} else {
			line, payload = payload, nil
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		ev, err := d.Decode(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}
	return events, errs
}

var errMissing = errors.New("missing required field")

func requireString(fields map[string]json.RawMessage, key string, dst *string) error {
	raw, ok := fields[key]
	if !ok {
		return errMissing
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return err
	}
	if strings.TrimSpace(*dst) == "" {
		return errMissing
	}
	return nil
}

func requireBody(fields map[string]json.RawMessage, key string, dst any) error {
	raw, ok := fields[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return fmt.Errorf("%s: %w", key, errMissing)
	}
	return json.Unmarshal(raw, dst)
}

func decodeCommit(ev *Event, fields map[string]json.RawMessage) error {
	c := &Commit{}
	if err := requireBody(fields, "commit", c); err != nil {
		return err
	}
	if !c.Operation.valid() {
		return fmt.Errorf("commit operation %q", c.Operation)
	}
	if c.Collection == "" || c.RKey == "" {
		return fmt.Errorf("commit collection/rkey: %w", errMissing)
	}
	ev.Commit = c
	return nil
}

func decodeIdentity(ev *Event, fields map[string]json.RawMessage) error {
	id := &Identity{}
	if err := requireBody(fields, "identity", id); err != nil {
		return err
	}
	ev.Identity = id
	return nil
}

func decodeAccount(ev *Event, fields map[string]json.RawMessage) error {
	acc := &Account{}
	if err := requireBody(fields, "account", acc); err != nil {
		return err
	}
	ev.Account = acc
	return nil
}
