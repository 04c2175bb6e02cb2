// Package domain holds the plain data types shared by every stage of the
// mirror pipeline: operations, export pages, and week arithmetic. Like the
// teacher's internal/models package, these are inert structs with small
// helper methods and no I/O.
package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var fastJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// OpKey identifies a single operation in the log. (did, cid) is the
// primary key of the operations table.
type OpKey struct {
	DID string
	CID string
}

func (k OpKey) String() string {
	return fmt.Sprintf("%s/%s", k.DID, k.CID)
}

// Op is one signed identity operation as published by the upstream
// directory. Operation is kept as opaque, unparsed JSON: the mirror never
// interprets it, only stores and forwards it verbatim.
type Op struct {
	DID       string          `json:"did"`
	Operation json.RawMessage `json:"operation"`
	CID       string          `json:"cid"`
	Nullified bool            `json:"nullified"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Key returns the primary-key pair for this operation.
func (o Op) Key() OpKey {
	return OpKey{DID: o.DID, CID: o.CID}
}

// ParseOp decodes a single newline-delimited JSON operation record. Upstream
// occasionally emits back-to-back objects with no separator ("}{"); callers
// should split on that boundary before calling ParseOp, matching the
// upstream's own line-splitting quirk.
func ParseOp(line []byte) (Op, error) {
	var o Op
	if err := fastJSON.Unmarshal(line, &o); err != nil {
		return Op{}, fmt.Errorf("parse op: %w", err)
	}
	return o, nil
}

// OpsEqual compares two ops for equality the way the upstream's Rust
// implementation does: Operation is compared as parsed JSON, not as raw
// bytes, since whitespace and key order are not significant.
func OpsEqual(a, b Op) bool {
	if a.DID != b.DID || a.CID != b.CID || a.Nullified != b.Nullified || !a.CreatedAt.Equal(b.CreatedAt) {
		return false
	}
	var av, bv any
	if err := fastJSON.Unmarshal(a.Operation, &av); err != nil {
		return false
	}
	if err := fastJSON.Unmarshal(b.Operation, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

// ExportPage is one page of the export protocol: zero or more ops, ordered
// non-decreasing by CreatedAt.
type ExportPage struct {
	Ops []Op
}

// LastOp is a (timestamp, key) pair used to resume a poll or identify the
// newest row written so far.
type LastOp struct {
	CreatedAt time.Time
	Key       OpKey
}
