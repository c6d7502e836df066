package transport

import (
	"sync"
	"time"
)

// MockTransport is a scriptable fake satisfying Transport, for driver and
// engine integration tests (spec.md §2: "a mock transport for testing" is
// part of the ~15% shared surface). It mirrors the teacher's preference for
// hand-rolled test doubles over generated mocks.
type MockTransport struct {
	mu     sync.Mutex
	events []Event

	registered []RegisterCall
	histories  []string
	txFetches  []FetchTxCall

	// OnRegister/OnFetchHistory/OnFetchTransaction let a test script a
	// response synchronously when the driver issues the corresponding
	// intent, e.g. pushing a StatusChanged right after RegisterScript.
	OnRegister         func(hash string, script []byte, m *MockTransport)
	OnFetchHistory     func(hash string, m *MockTransport)
	OnFetchTransaction func(txid, relatedHash string, m *MockTransport)
}

// RegisterCall records one RegisterScript invocation.
type RegisterCall struct {
	Hash   string
	Script []byte
}

// FetchTxCall records one FetchTransaction invocation.
type FetchTxCall struct {
	Txid        string
	RelatedHash string
}

// NewMock creates an empty mock transport.
func NewMock() *MockTransport {
	return &MockTransport{}
}

// Push enqueues an event directly, as if the reader task had produced it.
func (m *MockTransport) Push(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

// RegisterScript implements Transport.
func (m *MockTransport) RegisterScript(hash string, script []byte) {
	m.mu.Lock()
	m.registered = append(m.registered, RegisterCall{Hash: hash, Script: script})
	m.mu.Unlock()

	if m.OnRegister != nil {
		m.OnRegister(hash, script, m)
	}
}

// FetchHistory implements Transport.
func (m *MockTransport) FetchHistory(hash string) {
	m.mu.Lock()
	m.histories = append(m.histories, hash)
	m.mu.Unlock()

	if m.OnFetchHistory != nil {
		m.OnFetchHistory(hash, m)
	}
}

// FetchTransaction implements Transport.
func (m *MockTransport) FetchTransaction(txid, relatedHash string) {
	m.mu.Lock()
	m.txFetches = append(m.txFetches, FetchTxCall{Txid: txid, RelatedHash: relatedHash})
	m.mu.Unlock()

	if m.OnFetchTransaction != nil {
		m.OnFetchTransaction(txid, relatedHash, m)
	}
}

// PollOne implements Transport.
func (m *MockTransport) PollOne() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil, false
	}
	ev := m.events[0]
	m.events = m.events[1:]
	return ev, true
}

// WaitForWork implements Transport; the mock has no real wakeup source so
// tests drive it synchronously via Push, making this a no-op.
func (m *MockTransport) WaitForWork(timeout time.Duration) {}

// Close implements Transport.
func (m *MockTransport) Close() error { return nil }

// RegisteredHashes returns every hash RegisterScript was called with, in
// call order (duplicates included, for I3 dedup assertions).
func (m *MockTransport) RegisteredHashes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.registered))
	for i, r := range m.registered {
		out[i] = r.Hash
	}
	return out
}

// HistoryFetches returns every hash FetchHistory was called with, in order.
func (m *MockTransport) HistoryFetches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.histories))
	copy(out, m.histories)
	return out
}

// TransactionFetches returns every FetchTransaction call, in order.
func (m *MockTransport) TransactionFetches() []FetchTxCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FetchTxCall, len(m.txFetches))
	copy(out, m.txFetches)
	return out
}
