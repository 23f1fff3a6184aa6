package datasource

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/romashka-btc/espresso-sequencer/internal/consensus"
)

// Field numbers of the stored leaf encoding. The layout is a plain protobuf
// message so stored rows stay readable by generic protobuf tooling.
const (
	fieldLeafHeight    protowire.Number = 1
	fieldLeafView      protowire.Number = 2
	fieldLeafTimestamp protowire.Number = 3
	fieldLeafBlock     protowire.Number = 4

	fieldBlockTx protowire.Number = 1

	fieldTxNamespace protowire.Number = 1
	fieldTxPayload   protowire.Number = 2
)

// EncodeLeaf serializes a leaf for storage.
func EncodeLeaf(l consensus.Leaf) []byte { // A
	var b []byte
	b = protowire.AppendTag(b, fieldLeafHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, l.Height)
	b = protowire.AppendTag(b, fieldLeafView, protowire.VarintType)
	b = protowire.AppendVarint(b, l.View)
	if !l.Timestamp.IsZero() {
		b = protowire.AppendTag(b, fieldLeafTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(l.Timestamp.UnixNano()))
	}
	b = protowire.AppendTag(b, fieldLeafBlock, protowire.BytesType)
	b = protowire.AppendBytes(b, encodeBlock(l.Block))
	return b
}

func encodeBlock(blk consensus.Block) []byte { // A
	var b []byte
	for _, tx := range blk.Transactions {
		var t []byte
		t = protowire.AppendTag(t, fieldTxNamespace, protowire.VarintType)
		t = protowire.AppendVarint(t, tx.Namespace)
		if len(tx.Payload) > 0 {
			t = protowire.AppendTag(t, fieldTxPayload, protowire.BytesType)
			t = protowire.AppendBytes(t, tx.Payload)
		}
		b = protowire.AppendTag(b, fieldBlockTx, protowire.BytesType)
		b = protowire.AppendBytes(b, t)
	}
	return b
}

// DecodeLeaf parses the output of EncodeLeaf. Unknown fields are skipped.
// The returned leaf does not alias b.
func DecodeLeaf(b []byte) (consensus.Leaf, error) { // A
	var l consensus.Leaf
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldLeafHeight && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			l.Height = v
			return n, nil
		case num == fieldLeafView && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			l.View = v
			return n, nil
		case num == fieldLeafTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			l.Timestamp = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			return n, nil
		case num == fieldLeafBlock && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			blk, err := decodeBlock(v)
			if err != nil {
				return 0, err
			}
			l.Block = blk
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	if err != nil {
		return consensus.Leaf{}, fmt.Errorf("decode leaf: %w", err)
	}
	return l, nil
}

func decodeBlock(b []byte) (consensus.Block, error) { // A
	var blk consensus.Block
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldBlockTx || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		tx, err := decodeTransaction(v)
		if err != nil {
			return 0, err
		}
		blk.Transactions = append(blk.Transactions, tx)
		return n, nil
	})
	return blk, err
}

func decodeTransaction(b []byte) (consensus.Transaction, error) { // A
	var tx consensus.Transaction
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldTxNamespace && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			tx.Namespace = v
			return n, nil
		case num == fieldTxPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 && len(v) > 0 {
				tx.Payload = append([]byte(nil), v...)
			}
			return n, nil
		default:
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
	})
	return tx, err
}

// consumeFields walks every field in b. fn consumes the value and returns
// the number of bytes used, or a negative protowire error code.
func consumeFields(
	b []byte,
	fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error),
) error { // A
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}
