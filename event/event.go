// Package event holds the typed records carried by a Jetstream feed and the
// decoder that turns decompressed payload bytes into them.
package event

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindCommit   Kind = "commit"
	KindIdentity Kind = "identity"
	KindAccount  Kind = "account"
	KindUnknown  Kind = "unknown"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

func (o Operation) valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Event is one record of the feed. Exactly one of the payload pointers is
// set, selected by Kind.
type Event struct {
	Did    string `json:"did"`
	TimeUS int64  `json:"time_us"`
	Kind   Kind   `json:"kind"`

	Commit   *Commit   `json:"commit,omitempty"`
	Identity *Identity `json:"identity,omitempty"`
	Account  *Account  `json:"account,omitempty"`
	Unknown  *Unknown  `json:"unknown,omitempty"`
}

type Commit struct {
	Rev        string          `json:"rev,omitempty"`
	Operation  Operation       `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid,omitempty"`
}

type Identity struct {
	Did    string `json:"did"`
	Handle string `json:"handle,omitempty"`
	Seq    int64  `json:"seq"`
	Time   string `json:"time"`
}

type Account struct {
	Active bool   `json:"active"`
	Did    string `json:"did"`
	Seq    int64  `json:"seq"`
	Time   string `json:"time"`
	Status string `json:"status,omitempty"`
}

// Unknown keeps a record whose kind this client does not model yet.
type Unknown struct {
	Kind   string                     `json:"kind"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// Collection returns the commit collection, or "" for non-commit events.
func (e *Event) Collection() string {
	if e.Commit == nil {
		return ""
	}
	return e.Commit.Collection
}

func (e *Event) String() string {
	switch e.Kind {
	case KindCommit:
		if e.Commit != nil {
			return fmt.Sprintf("commit %s %s/%s did=%s time_us=%d",
				e.Commit.Operation, e.Commit.Collection, e.Commit.RKey, e.Did, e.TimeUS)
		}
	case KindIdentity:
		if e.Identity != nil {
			return fmt.Sprintf("identity handle=%s did=%s time_us=%d", e.Identity.Handle, e.Did, e.TimeUS)
		}
	case KindAccount:
		if e.Account != nil {
			return fmt.Sprintf("account active=%t status=%s did=%s time_us=%d",
				e.Account.Active, e.Account.Status, e.Did, e.TimeUS)
		}
	case KindUnknown:
		if e.Unknown != nil {
			return fmt.Sprintf("unknown kind=%s did=%s time_us=%d", e.Unknown.Kind, e.Did, e.TimeUS)
		}
	}
	return fmt.Sprintf("%s did=%s time_us=%d", e.Kind, e.Did, e.TimeUS)
}
