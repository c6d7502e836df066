// Package scripthash computes Electrum-convention script-hashes and, for
// the CLI and tests, builds scriptPubKeys from addresses — the boundary
// "descriptor-to-script cryptography" piece spec.md §1 treats as an
// external collaborator, grounded on the teacher's
// internal/backend.electrum.go address<->script helpers.
package scripthash

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// Hash computes H: SHA-256 of the script bytes, reversed, hex-encoded —
// the Electrum scripthash convention (spec.md §6).
func Hash(script []byte) string {
	sum := chainhash.HashB(script)
	reverse(sum)
	return hex.EncodeToString(sum)
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// FromAddress decodes a Bitcoin-family address into its scriptPubKey and
// the corresponding Electrum scripthash.
func FromAddress(address string, params *chaincfg.Params) (script []byte, hash string, err error) {
	decoded, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode address: %w", err)
	}
	script, err = txscript.PayToAddrScript(decoded)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build script for address: %w", err)
	}
	return script, Hash(script), nil
}
