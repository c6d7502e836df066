// Package driver implements the synchronous orchestrator (spec.md §4.C):
// it runs the engine's tick against a live transport until shutdown,
// translating transport events into engine events, dispatching emitted
// commands back to the transport, and forwarding reconciled deltas through
// an update sink.
package driver

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/klingon-tech/walletsync/internal/engine"
	"github.com/klingon-tech/walletsync/internal/metrics"
	"github.com/klingon-tech/walletsync/internal/transport"
	"github.com/klingon-tech/walletsync/pkg/logging"
)

// UpdateSink is the orchestrator's external surface (spec.md §4 "Orchestrator
// (update sink)"): the collaborator that receives decoded transactions and
// lookahead-slide notifications so an external wallet's keychain state
// tracks the tracker's.
type UpdateSink interface {
	// TransactionReceived carries a transaction's raw bytes and the
	// wall-clock second it was observed. The timestamp is required: some
	// downstream wallets sort unanchored transactions by discovery time
	// and would otherwise ignore them (spec.md §9).
	TransactionReceived(raw []byte, seenAtUnixSeconds int64)

	// LookaheadSlide signals that keychain's watched window grew; the
	// collaborator should reveal addresses up to highestRevealedIndex.
	LookaheadSlide(keychain string, highestRevealedIndex uint32)
}

// Driver runs the engine against a transport until a shutdown flag is set.
type Driver struct {
	engine    *engine.Engine
	transport transport.Transport
	sink      UpdateSink
	log       *logging.Logger

	idlePoll time.Duration
	metrics  *metrics.Registry

	onBootstrap    func()
	bootstrapFired bool
}

// Option configures a Driver at construction.
type Option func(*Driver)

// WithIdlePoll sets how long the driver waits on the transport's wakeup
// mechanism when no event is pending (default 250ms).
func WithIdlePoll(d time.Duration) Option {
	return func(drv *Driver) { drv.idlePoll = d }
}

// WithLogger attaches a component logger; the default is the "driver"
// component of the package-level default logger.
func WithLogger(l *logging.Logger) Option {
	return func(drv *Driver) { drv.log = l }
}

// WithMetrics attaches a Prometheus registry; without it, the driver records
// nothing.
func WithMetrics(m *metrics.Registry) Option {
	return func(drv *Driver) { drv.metrics = m }
}

// New builds a Driver over e, t, and sink.
func New(e *engine.Engine, t transport.Transport, sink UpdateSink, opts ...Option) *Driver {
	drv := &Driver{
		engine:    e,
		transport: t,
		sink:      sink,
		log:       logging.Component("driver"),
		idlePoll:  250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(drv)
	}
	return drv
}

// OnBootstrap registers the one-shot callback fired once the engine has
// dispatched its initial subscribe wave (spec.md §4.B, §6). Must be called
// before Run.
func (d *Driver) OnBootstrap(cb func()) {
	d.onBootstrap = cb
}

// Run executes the driver loop until shutdown is set to true, then returns
// the final engine state for debugging/metrics. It does not attempt a
// graceful unsubscribe on exit (spec.md §4.C).
func (d *Driver) Run(shutdown *atomic.Bool) *engine.Engine {
	for {
		if shutdown.Load() {
			return d.engine
		}

		ev, ok := d.transport.PollOne()
		if !ok {
			d.transport.WaitForWork(d.idlePoll)
			continue
		}

		if disconnected := d.tick(ev); disconnected {
			d.log.Warn("transport disconnected, exiting driver loop")
			return d.engine
		}
	}
}

// tick processes one transport event and reports whether it was a
// Disconnected event, so Run can exit its loop (spec.md §5/§7: a lost
// connection is not recovered in this version).
func (d *Driver) tick(ev transport.Event) bool {
	now := time.Now()
	engEvent := translate(ev)
	if engEvent == nil {
		d.log.Warn("dropped unrecognized transport event")
		return false
	}

	if d.metrics != nil {
		d.metrics.EventsTotal.WithLabelValues(fmt.Sprintf("%T", engEvent)).Inc()
	}

	preKeychainMax := d.highestIndexPerKeychain()

	cmds := d.engine.Feed(engEvent, now)
	for _, cmd := range cmds {
		d.dispatch(cmd)
	}

	if txEv, ok := ev.(transport.TransactionReceived); ok {
		d.sink.TransactionReceived(txEv.Raw, now.Unix())
	}

	d.forwardLookaheadSlide(preKeychainMax)
	d.maybeFireBootstrap()

	_, disconnected := ev.(transport.Disconnected)
	return disconnected
}

func (d *Driver) dispatch(cmd engine.Command) {
	switch c := cmd.(type) {
	case engine.Subscribe:
		d.transport.RegisterScript(c.Hash, c.Script)
		if d.metrics != nil {
			d.metrics.SubscriptionsActive.Inc()
		}
	case engine.FetchHistory:
		d.transport.FetchHistory(c.Hash)
		if d.metrics != nil {
			d.metrics.HistoryFetchesTotal.Inc()
		}
	case engine.FetchTransaction:
		d.transport.FetchTransaction(c.Txid, c.RelatedKey)
		if d.metrics != nil {
			d.metrics.TxFetchesTotal.Inc()
		}
	default:
		d.log.Warn("unknown engine command", "command", cmd)
	}
}

// highestIndexPerKeychain snapshots the tracker's current high-water mark
// per keychain, used to detect a lookahead slide after Feed returns.
func (d *Driver) highestIndexPerKeychain() map[string]uint32 {
	out := make(map[string]uint32)
	for _, rec := range d.engine.Tracker().All() {
		k := string(rec.Keychain)
		if rec.Index > out[k] {
			out[k] = rec.Index
		}
	}
	return out
}

func (d *Driver) forwardLookaheadSlide(before map[string]uint32) {
	after := d.highestIndexPerKeychain()
	for k, hi := range after {
		if hi > before[k] {
			d.sink.LookaheadSlide(k, hi)
		}
	}
}

func (d *Driver) maybeFireBootstrap() {
	if d.bootstrapFired || !d.engine.BootstrapDispatched() {
		return
	}
	d.bootstrapFired = true
	if d.metrics != nil {
		d.metrics.BootstrapSeconds.Observe(time.Since(d.engine.StartTime()).Seconds())
	}
	if d.onBootstrap != nil {
		d.onBootstrap()
	}
}

func translate(ev transport.Event) engine.Event {
	switch e := ev.(type) {
	case transport.Connected:
		return engine.Connected{}
	case transport.StatusChanged:
		return engine.StatusChanged{Hash: e.Hash, Status: e.Status}
	case transport.HistoryReceived:
		entries := make([]engine.HistoryEntry, len(e.Entries))
		for i, entry := range e.Entries {
			entries[i] = engine.HistoryEntry{Txid: entry.Txid, Height: entry.Height}
		}
		return engine.HistoryReceived{Hash: e.Hash, Entries: entries}
	case transport.TransactionReceived:
		return engine.TransactionReceived{Txid: e.Txid, Raw: e.Raw, RelatedKey: e.RelatedHash}
	case transport.Disconnected:
		return engine.Disconnected{}
	default:
		return nil
	}
}
