// Package engine implements the streaming engine (spec.md §4.B): a pure
// state machine that consumes Events and emits Commands, tracking per-
// script status and history with no I/O of its own. It holds a tracker by
// value (by reference, since Go has no value semantics for the map-backed
// Tracker without a deep copy, but ownership is exclusive to the engine,
// matching the "Engine holds the Tracker" acyclic design in spec.md §9).
//
// The engine never reads the wall clock itself; every transition that
// needs a timestamp receives one as a Feed parameter, supplied by the
// driver. This keeps the state machine exhaustively testable with tabular
// event sequences and no real time dependency.
package engine

import (
	"time"

	"github.com/klingon-tech/walletsync/internal/tracker"
)

// HistoryEntry is a (txid, height) pair from blockchain.scripthash.get_history.
type HistoryEntry struct {
	Txid   string
	Height int64
}

// Event is the engine's input alphabet.
type Event interface{ isEvent() }

// Connected signals the transport handshake completed.
type Connected struct{}

// StatusChanged signals the server pushed a new status for H.
type StatusChanged struct {
	Hash   string
	Status string
}

// HistoryReceived carries a script's full reconciled history.
type HistoryReceived struct {
	Hash    string
	Entries []HistoryEntry
}

// TransactionReceived carries a decoded transaction's raw bytes.
type TransactionReceived struct {
	Txid       string
	Raw        []byte
	RelatedKey string
}

// Disconnected signals the transport was lost.
type Disconnected struct{}

func (Connected) isEvent()           {}
func (StatusChanged) isEvent()       {}
func (HistoryReceived) isEvent()     {}
func (TransactionReceived) isEvent() {}
func (Disconnected) isEvent()        {}

// Command is the engine's output alphabet: intents for the driver to
// dispatch to the transport.
type Command interface{ isCommand() }

// Subscribe requests a subscription to H.
type Subscribe struct {
	Hash   string
	Script []byte
}

// FetchHistory requests H's history.
type FetchHistory struct {
	Hash string
}

// FetchTransaction requests a transaction's raw bytes.
type FetchTransaction struct {
	Txid       string
	RelatedKey string
}

func (Subscribe) isCommand()        {}
func (FetchHistory) isCommand()     {}
func (FetchTransaction) isCommand() {}

// Engine is the streaming state machine. Zero value is not usable; build
// with New.
type Engine struct {
	tracker *tracker.Tracker

	lastObservedStatus map[string]string
	reconciledStatus   map[string]string
	reconciledHistory  map[string][]HistoryEntry

	subscribed      map[string]bool
	historyInFlight map[string]bool
	seen            map[string]bool
	pendingTx       map[string]bool

	startTime           time.Time
	firstTxSeenAt       *time.Time
	firstHistorySeenAt  *time.Time
	bootstrapDispatched bool
}

// New builds an engine over tr, recording startTime as instrumentation
// state (never read from the system clock internally).
func New(tr *tracker.Tracker, startTime time.Time) *Engine {
	return &Engine{
		tracker:             tr,
		lastObservedStatus:  make(map[string]string),
		reconciledStatus:    make(map[string]string),
		reconciledHistory:   make(map[string][]HistoryEntry),
		subscribed:          make(map[string]bool),
		historyInFlight:     make(map[string]bool),
		seen:                make(map[string]bool),
		pendingTx:           make(map[string]bool),
		startTime:           startTime,
	}
}

// Tracker returns the engine's tracker, for the driver/orchestrator to
// resolve keychain/index metadata (e.g. for lookahead-slide updates).
func (e *Engine) Tracker() *tracker.Tracker {
	return e.tracker
}

// StartTime returns the instrumentation start time passed at construction.
func (e *Engine) StartTime() time.Time {
	return e.startTime
}

// FirstTransactionSeenAt returns the time of the first TransactionReceived
// event, or the zero Time if none has occurred yet.
func (e *Engine) FirstTransactionSeenAt() time.Time {
	if e.firstTxSeenAt == nil {
		return time.Time{}
	}
	return *e.firstTxSeenAt
}

// FirstHistorySeenAt returns the time of the first HistoryReceived event
// (empty or not), or the zero Time if none has occurred yet.
func (e *Engine) FirstHistorySeenAt() time.Time {
	if e.firstHistorySeenAt == nil {
		return time.Time{}
	}
	return *e.firstHistorySeenAt
}

// BootstrapDispatched reports whether the first Connected event has been
// processed and every subscribe command it emitted has been returned to
// the driver (spec.md §4.B). Since Feed returns the full command batch
// synchronously, this becomes true as soon as Connected is processed once.
func (e *Engine) BootstrapDispatched() bool {
	return e.bootstrapDispatched
}

// Feed processes one event and returns the commands it produces. now is
// the driver's wall-clock reading at the moment of processing; the engine
// stores it only into its own instrumentation fields, never derives it.
func (e *Engine) Feed(event Event, now time.Time) []Command {
	switch ev := event.(type) {
	case Connected:
		return e.onConnected()
	case StatusChanged:
		return e.onStatusChanged(ev)
	case HistoryReceived:
		return e.onHistoryReceived(ev, now)
	case TransactionReceived:
		return e.onTransactionReceived(ev, now)
	case Disconnected:
		return e.onDisconnected()
	default:
		return nil
	}
}

func (e *Engine) onConnected() []Command {
	var cmds []Command
	for _, rec := range e.tracker.All() {
		if e.subscribed[rec.Hash] {
			continue
		}
		cmds = append(cmds, Subscribe{Hash: rec.Hash, Script: rec.Script})
		e.subscribed[rec.Hash] = true
	}
	e.bootstrapDispatched = true
	return cmds
}

func (e *Engine) onStatusChanged(ev StatusChanged) []Command {
	// Defensive per spec.md §8: an H the tracker never derived is dropped
	// silently; I2 should prevent this but a stray server push should not
	// panic the driver.
	if _, ok := e.tracker.Lookup(ev.Hash); !ok {
		return nil
	}

	e.lastObservedStatus[ev.Hash] = ev.Status

	if e.reconciledStatus[ev.Hash] == ev.Status {
		// I4: a never-reconciled script defaults to the empty/unused
		// status, so a fresh "" push (the common cold-start case) is
		// already reconciled and needs no history fetch.
		return nil
	}
	if e.historyInFlight[ev.Hash] {
		return nil
	}

	e.historyInFlight[ev.Hash] = true
	return []Command{FetchHistory{Hash: ev.Hash}}
}

func (e *Engine) onHistoryReceived(ev HistoryReceived, now time.Time) []Command {
	wasUsed := len(e.reconciledHistory[ev.Hash]) > 0

	e.reconciledHistory[ev.Hash] = ev.Entries
	e.reconciledStatus[ev.Hash] = e.lastObservedStatus[ev.Hash]
	delete(e.historyInFlight, ev.Hash)

	var cmds []Command
	for _, entry := range ev.Entries {
		if e.seen[entry.Txid] || e.pendingTx[entry.Txid] {
			continue
		}
		e.pendingTx[entry.Txid] = true
		cmds = append(cmds, FetchTransaction{Txid: entry.Txid, RelatedKey: ev.Hash})
	}

	if !wasUsed && len(ev.Entries) > 0 {
		if rec, ok := e.tracker.Lookup(ev.Hash); ok {
			if newRecs, err := e.tracker.MarkUsedAndDeriveNew(rec.Keychain, rec.Index); err == nil {
				for _, nr := range newRecs {
					if e.subscribed[nr.Hash] {
						continue
					}
					cmds = append(cmds, Subscribe{Hash: nr.Hash, Script: nr.Script})
					e.subscribed[nr.Hash] = true
				}
			}
		}
	}

	if e.firstHistorySeenAt == nil {
		t := now
		e.firstHistorySeenAt = &t
	}

	return cmds
}

func (e *Engine) onTransactionReceived(ev TransactionReceived, now time.Time) []Command {
	delete(e.pendingTx, ev.Txid)
	e.seen[ev.Txid] = true

	if e.firstTxSeenAt == nil {
		t := now
		e.firstTxSeenAt = &t
	}
	return nil
}

func (e *Engine) onDisconnected() []Command {
	e.subscribed = make(map[string]bool)
	e.historyInFlight = make(map[string]bool)
	e.pendingTx = make(map[string]bool)
	return nil
}
