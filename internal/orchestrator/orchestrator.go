// Package orchestrator adapts the driver's raw TransactionReceived/
// LookaheadSlide callbacks into typed wallet-update objects (spec.md §4
// "Orchestrator (update sink)", §6 "Wallet update surface"). It decodes
// each transaction's raw bytes once via internal/txdecode and attaches the
// wall-clock seen-at timestamp the downstream wallet needs to sort and
// retain unanchored transactions (spec.md §9). It performs no balance
// computation or transaction-graph construction (spec.md §1 Non-goals) —
// those stay the external wallet collaborator's job.
package orchestrator

import (
	"fmt"
	"time"

	"github.com/klingon-tech/walletsync/internal/txdecode"
	"github.com/klingon-tech/walletsync/pkg/helpers"
	"github.com/klingon-tech/walletsync/pkg/logging"
)

// Update is the orchestrator's output alphabet, delivered to whatever
// wallet-persistence collaborator is listening on Updates().
type Update interface{ isUpdate() }

// TransactionUpdate carries a decoded transaction and the second it was
// observed. Without SeenAt, some wallet implementations that sort
// unanchored transactions by discovery time would ignore it entirely.
type TransactionUpdate struct {
	Txid                string
	Raw                 []byte
	SeenAt              time.Time
	TotalOutputSatoshis int64
}

// LookaheadUpdate signals that a keychain's watched window grew; the
// collaborator should reveal addresses up to HighestRevealedIndex so its
// own keychain state matches the tracker's.
type LookaheadUpdate struct {
	Keychain             string
	HighestRevealedIndex uint32
}

func (TransactionUpdate) isUpdate() {}
func (LookaheadUpdate) isUpdate()   {}

// Orchestrator implements driver.UpdateSink structurally (it is never
// imported by the driver package — spec.md §9 "no component references
// its caller" — callers simply pass an *Orchestrator where a UpdateSink
// is expected).
type Orchestrator struct {
	updates chan Update
	log     *logging.Logger
}

// New builds an Orchestrator with the given update channel buffer size.
func New(bufferSize int) *Orchestrator {
	return &Orchestrator{
		updates: make(chan Update, bufferSize),
		log:     logging.Component("orchestrator"),
	}
}

// Updates returns the channel of wallet updates; the collaborating wallet
// persistence layer drains it.
func (o *Orchestrator) Updates() <-chan Update {
	return o.updates
}

// TransactionReceived decodes raw and forwards a TransactionUpdate. A
// decode failure is logged and dropped rather than surfaced: the engine
// has already marked the txid seen, and spec.md §7 treats malformed
// server data as a transport-layer concern, not an engine/driver fault.
func (o *Orchestrator) TransactionReceived(raw []byte, seenAtUnixSeconds int64) {
	tx, err := txdecode.Decode(raw)
	if err != nil {
		o.log.Warn("dropping undecodable transaction", "err", err)
		return
	}

	var total int64
	for _, out := range tx.Msg.TxOut {
		total += out.Value
	}

	seenAt := time.Unix(seenAtUnixSeconds, 0).UTC()
	o.log.Info("transaction observed",
		"txid", tx.Txid,
		"value_btc", helpers.SatoshisToBTC(uint64(total)),
		"seen_at", seenAt.Format(time.RFC3339),
	)

	o.updates <- TransactionUpdate{
		Txid:                tx.Txid,
		Raw:                 tx.Raw,
		SeenAt:              seenAt,
		TotalOutputSatoshis: total,
	}
}

// LookaheadSlide forwards a LookaheadUpdate so the collaborating wallet
// reveals addresses up to the new horizon (spec.md §9 "Lookahead constant").
func (o *Orchestrator) LookaheadSlide(keychain string, highestRevealedIndex uint32) {
	o.log.Info("lookahead slide", "keychain", keychain, "highest_index", highestRevealedIndex)
	o.updates <- LookaheadUpdate{
		Keychain:             keychain,
		HighestRevealedIndex: highestRevealedIndex,
	}
}

// String renders a TransactionUpdate for log/debug output.
func (u TransactionUpdate) String() string {
	return fmt.Sprintf("tx %s value=%s BTC seen_at=%s", u.Txid, helpers.SatoshisToBTC(uint64(u.TotalOutputSatoshis)), u.SeenAt.Format(time.RFC3339))
}
