package driver

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klingon-tech/walletsync/internal/engine"
	"github.com/klingon-tech/walletsync/internal/tracker"
	"github.com/klingon-tech/walletsync/internal/transport"
)

type fakeDescriptor struct{ id string }

func (d *fakeDescriptor) Script(index uint32) ([]byte, error) {
	return []byte(fmt.Sprintf("%s/%d", d.id, index)), nil
}

type recordingSink struct {
	txs    [][]byte
	slides map[string]uint32
}

func newRecordingSink() *recordingSink {
	return &recordingSink{slides: make(map[string]uint32)}
}

func (s *recordingSink) TransactionReceived(raw []byte, seenAt int64) {
	s.txs = append(s.txs, raw)
}

func (s *recordingSink) LookaheadSlide(keychain string, highestRevealedIndex uint32) {
	if highestRevealedIndex > s.slides[keychain] {
		s.slides[keychain] = highestRevealedIndex
	}
}

func newTestDriver(t *testing.T, lookahead uint32) (*Driver, *transport.MockTransport, *tracker.Tracker, *recordingSink) {
	t.Helper()
	tr := tracker.New(lookahead)
	if _, err := tr.InsertDescriptor("external", &fakeDescriptor{"a"}, 0); err != nil {
		t.Fatalf("InsertDescriptor() error = %v", err)
	}
	e := engine.New(tr, time.Unix(0, 0))
	mt := transport.NewMock()
	sink := newRecordingSink()
	return New(e, mt, sink), mt, tr, sink
}

func TestDriverBootstrapFiresOnce(t *testing.T) {
	d, mt, _, _ := newTestDriver(t, 4)
	fired := 0
	d.OnBootstrap(func() { fired++ })

	mt.Push(transport.Connected{})
	ev, _ := mt.PollOne()
	d.tick(ev)

	if fired != 1 {
		t.Fatalf("bootstrap fired %d times, want 1", fired)
	}
	if len(mt.RegisteredHashes()) != 4 {
		t.Fatalf("registered %d hashes, want 4", len(mt.RegisteredHashes()))
	}

	// A second, unrelated tick should not re-fire bootstrap.
	mt.Push(transport.StatusChanged{Hash: mt.RegisteredHashes()[0], Status: ""})
	ev, _ = mt.PollOne()
	d.tick(ev)
	if fired != 1 {
		t.Fatalf("bootstrap fired %d times after second tick, want 1", fired)
	}
}

func TestDriverForwardsTransactionsAndLookaheadSlide(t *testing.T) {
	d, mt, tr, sink := newTestDriver(t, 4)

	mt.Push(transport.Connected{})
	ev, _ := mt.PollOne()
	d.tick(ev)

	hashes := mt.RegisteredHashes()
	h2 := hashes[2]

	mt.Push(transport.StatusChanged{Hash: h2, Status: "abcd"})
	ev, _ = mt.PollOne()
	d.tick(ev)
	if len(mt.HistoryFetches()) != 1 {
		t.Fatalf("history fetches = %d, want 1", len(mt.HistoryFetches()))
	}

	mt.Push(transport.HistoryReceived{Hash: h2, Entries: []transport.HistoryEntry{{Txid: "deadbeef", Height: 100}}})
	ev, _ = mt.PollOne()
	d.tick(ev)

	if sink.slides["external"] != 6 {
		t.Fatalf("LookaheadSlide high-water = %d, want 6", sink.slides["external"])
	}
	if len(tr.All()) != 7 {
		t.Fatalf("tracker size = %d, want 7", len(tr.All()))
	}

	mt.Push(transport.TransactionReceived{Txid: "deadbeef", Raw: []byte{0xde, 0xad}, RelatedHash: h2})
	ev, _ = mt.PollOne()
	d.tick(ev)

	if len(sink.txs) != 1 {
		t.Fatalf("sink received %d transactions, want 1", len(sink.txs))
	}
}

func TestDriverRunRespectsShutdown(t *testing.T) {
	d, mt, _, _ := newTestDriver(t, 2)
	var shutdown atomic.Bool

	mt.Push(transport.Connected{})
	done := make(chan struct{})
	go func() {
		d.Run(&shutdown)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if len(mt.RegisteredHashes()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for bootstrap registration")
		case <-time.After(time.Millisecond):
		}
	}

	shutdown.Store(true)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after shutdown flag set")
	}
}

func TestDriverRunExitsOnDisconnected(t *testing.T) {
	d, mt, _, _ := newTestDriver(t, 2)
	var shutdown atomic.Bool

	mt.Push(transport.Connected{})
	mt.Push(transport.Disconnected{})
	done := make(chan struct{})
	go func() {
		d.Run(&shutdown)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after a Disconnected event, without shutdown being set")
	}
	if shutdown.Load() {
		t.Error("Run() must not set shutdown itself; the caller decides whether to restart")
	}
}

func TestTickReportsDisconnected(t *testing.T) {
	d, mt, _, _ := newTestDriver(t, 2)

	mt.Push(transport.Connected{})
	ev, _ := mt.PollOne()
	if d.tick(ev) {
		t.Fatal("tick() reported disconnected for a Connected event")
	}

	mt.Push(transport.Disconnected{})
	ev, _ = mt.PollOne()
	if !d.tick(ev) {
		t.Fatal("tick() did not report disconnected for a Disconnected event")
	}
}
