// Package consensus describes the consensus handle the API drives and the
// data it emits.
package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// NodeIndex is this node's position in the cluster's stake table.
type NodeIndex uint64

// Handle is the part of a running consensus instance the API needs.
type Handle interface {
	// EventStream subscribes to events matching filter. Only events emitted
	// after the call are delivered, so subscribe before StartConsensus to
	// observe every decide. The channel is closed when consensus stops.
	EventStream(filter EventFilter) <-chan Event

	// StartConsensus begins producing views. Calling it again has no effect.
	StartConsensus(ctx context.Context)

	// SubmitTransaction hands a transaction to consensus for inclusion.
	SubmitTransaction(ctx context.Context, tx Transaction) error
}

// Transaction is an opaque payload tagged with the namespace of the rollup
// that submitted it.
type Transaction struct {
	Namespace uint64 `json:"namespace"`
	Payload   []byte `json:"payload"`
}

// Commit returns the transaction's content hash.
func (t Transaction) Commit() Commitment { // A
	h := sha256.New()
	var ns [8]byte
	binary.BigEndian.PutUint64(ns[:], t.Namespace)
	h.Write(ns[:])
	h.Write(t.Payload)

	var c Commitment
	copy(c[:], h.Sum(nil))
	return c
}

// Commitment identifies a transaction.
type Commitment [32]byte

func (c Commitment) String() string { // A
	return hex.EncodeToString(c[:])
}

// ParseCommitment decodes the hex form produced by Commitment.String.
func ParseCommitment(s string) (Commitment, error) { // A
	var c Commitment
	raw, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("decode commitment: %w", err)
	}
	if len(raw) != len(c) {
		return c, fmt.Errorf("commitment must be %d bytes, got %d", len(c), len(raw))
	}
	copy(c[:], raw)
	return c, nil
}

// Block is the ordered list of transactions decided in one view.
type Block struct {
	Transactions []Transaction `json:"transactions"`
}

// Size is the summed payload size of all transactions.
func (b Block) Size() int { // HC
	n := 0
	for _, tx := range b.Transactions {
		n += len(tx.Payload)
	}
	return n
}

// Leaf is a decided block together with its position in the chain.
type Leaf struct {
	Height    uint64    `json:"height"`
	View      uint64    `json:"view"`
	Timestamp time.Time `json:"timestamp"`
	Block     Block     `json:"block"`
}

// EventKind classifies an Event.
type EventKind int

const (
	// EventDecide carries newly decided leaves.
	EventDecide EventKind = iota + 1
	// EventViewFinished marks the end of a view without a decide.
	EventViewFinished
	// EventError reports a consensus-internal failure.
	EventError
)

func (k EventKind) String() string { // HC
	switch k {
	case EventDecide:
		return "decide"
	case EventViewFinished:
		return "view_finished"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is a single item on an event stream.
type Event struct {
	View uint64
	Kind EventKind
	// Leaves is set for EventDecide, oldest first.
	Leaves []Leaf
	// Err is set for EventError.
	Err error
}

// EventFilter selects which events a subscriber receives. The zero value
// selects everything.
type EventFilter struct {
	Kinds []EventKind
}

// Matches reports whether kind passes the filter.
func (f EventFilter) Matches(kind EventKind) bool { // A
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
