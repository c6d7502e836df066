// Package transport implements the async transport (spec.md §4.D): a
// full-duplex TLS/JSON-RPC client with request-ID correlation, notification
// demultiplexing, and an on-disk status cache for instant resume. It
// exposes a synchronous, non-blocking interface to the driver while running
// its own reader/writer tasks internally, grounded on the teacher's
// internal/backend/electrum.go connection-handling code reshaped into an
// async, queue-mediated design.
package transport

import "time"

// HistoryEntry mirrors a blockchain.scripthash.get_history response entry.
type HistoryEntry struct {
	Txid   string `json:"tx_hash"`
	Height int64  `json:"height"`
}

// Event is the transport's output alphabet, drained by the driver via
// PollOne and translated 1:1 into engine.Event values. Kept distinct from
// engine.Event so the transport never imports the engine package (spec.md
// §9: "No component references its caller").
type Event interface{ isTransportEvent() }

// Connected signals the handshake completed. ElectrumTransport pushes it
// once, after Dial's server.version round trip; it never reconnects, so it
// never pushes it again.
type Connected struct{}

// StatusChanged is a scripthash's new status, from either a notification or
// the initial subscribe response.
type StatusChanged struct {
	Hash   string
	Status string
}

// HistoryReceived carries a scripthash's full history, from a
// blockchain.scripthash.get_history response or a cache replay.
type HistoryReceived struct {
	Hash    string
	Entries []HistoryEntry
}

// TransactionReceived carries a decoded transaction's raw bytes.
type TransactionReceived struct {
	Txid        string
	Raw         []byte
	RelatedHash string
}

// Disconnected signals the connection was lost; no reconnection is
// attempted in this version (spec.md §5, known gap).
type Disconnected struct{}

func (Connected) isTransportEvent()           {}
func (StatusChanged) isTransportEvent()       {}
func (HistoryReceived) isTransportEvent()     {}
func (TransactionReceived) isTransportEvent() {}
func (Disconnected) isTransportEvent()        {}

// Transport is the driver-facing capability set (spec.md §4.D
// "ElectrumApi interface"). Every method besides PollOne/WaitForWork is
// fire-and-forget: it enqueues an intent and returns immediately.
type Transport interface {
	// RegisterScript enqueues a subscribe for hash/script. Implementations
	// must honor I6: if a cache entry's status already matches the
	// server's, history is replayed from cache instead of re-fetched.
	RegisterScript(hash string, script []byte)

	// FetchHistory enqueues a get_history request for hash.
	FetchHistory(hash string)

	// FetchTransaction enqueues a get_transaction request for txid.
	FetchTransaction(txid, relatedHash string)

	// PollOne drains one pending event, non-blocking.
	PollOne() (Event, bool)

	// WaitForWork blocks until an event may be available or timeout elapses.
	WaitForWork(timeout time.Duration)

	// Close releases the underlying connection and stops the reader/writer
	// tasks. It does not attempt a graceful unsubscribe.
	Close() error
}
