// Package txdecode decodes raw transaction bytes into an immutable record
// keyed by txid — the "raw-transaction decoder" collaborator spec.md §1
// names, backed by btcd's wire.MsgTx.
package txdecode

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// Transaction is an immutable, decoded transaction: the raw bytes exactly
// as received plus the parsed message and its computed txid. Once
// constructed it is never mutated (spec.md §3 "Transaction record").
type Transaction struct {
	Txid string
	Raw  []byte
	Msg  *wire.MsgTx
}

// Decode parses raw transaction bytes (legacy or witness-serialized).
func Decode(raw []byte) (*Transaction, error) {
	msg := wire.NewMsgTx(wire.TxVersion)
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("txdecode: deserialize: %w", err)
	}
	return &Transaction{
		Txid: msg.TxHash().String(),
		Raw:  append([]byte(nil), raw...),
		Msg:  msg,
	}, nil
}

// DecodeHex parses a hex-encoded raw transaction, as returned by
// blockchain.transaction.get.
func DecodeHex(rawHex string) (*Transaction, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("txdecode: invalid hex: %w", err)
	}
	return Decode(raw)
}
