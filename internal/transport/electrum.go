package transport

import (
	"bufio"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klingon-tech/walletsync/pkg/logging"
)

// Config configures an Electrum endpoint connection.
type Config struct {
	// Endpoint is "host:port".
	Endpoint string
	// TLS enables a TLS upgrade after the TCP connect; Electrum servers
	// overwhelmingly require this in production.
	TLS bool
	// ClientID and ProtocolVersion are sent as server.version's params.
	ClientID        string
	ProtocolVersion string
	// CachePath is the on-disk status cache file (spec.md §4.D, §6).
	CachePath string
	// DialTimeout bounds DNS resolution + TCP connect + TLS handshake.
	DialTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "walletsync"
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = "1.4"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

type pendingKind int

const (
	kindSubscribe pendingKind = iota
	kindGetHistory
	kindGetTransaction
)

type pendingRequest struct {
	kind        pendingKind
	hash        string // scripthash, for subscribe/get_history
	txid        string // for get_transaction
	relatedHash string // the H a get_transaction request was triggered by
}

type command struct {
	kind        pendingKind
	hash        string
	script      []byte
	txid        string
	relatedHash string
}

type rpcRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type wireMessage struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// ElectrumTransport is the real, network-backed Transport implementation
// (spec.md §4.D): a single TLS connection with an independent reader task
// and writer task, communicating with the driver only through one
// mutex-protected shared state and its condition variable. Grounded on the
// teacher's internal/backend/electrum.go connection and framing logic,
// reshaped from a synchronous call/response client into this async,
// queue-mediated design.
type ElectrumTransport struct {
	conn net.Conn
	log  *logging.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	connected bool
	commands  []command
	events    []Event
	inFlight  map[uint64]pendingRequest
	lastSeen  map[string]string // most recent observed status per H

	nextID atomic.Uint64
	cache  *Cache
}

// Dial performs the full startup handshake synchronously: blocking DNS
// resolution, TCP connect, optional TLS upgrade, and a server.version
// round trip. It returns only once the connection is guaranteed viable,
// then spawns the reader and writer tasks for ongoing operation.
func Dial(cfg Config) (*ElectrumTransport, error) {
	cfg = cfg.withDefaults()
	log := logging.Component("transport")

	host, _, err := net.SplitHostPort(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid endpoint %q: %w", cfg.Endpoint, err)
	}
	if _, err := net.LookupHost(host); err != nil {
		return nil, fmt.Errorf("transport: dns resolution failed: %w", err)
	}

	rawConn, err := net.DialTimeout("tcp", cfg.Endpoint, cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: tcp dial failed: %w", err)
	}

	var conn net.Conn = rawConn
	if cfg.TLS {
		tlsConn := tls.Client(rawConn, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
		if err := tlsConn.Handshake(); err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("transport: tls handshake failed: %w", err)
		}
		conn = tlsConn
	}

	tx := &ElectrumTransport{
		conn:     conn,
		log:      log,
		inFlight: make(map[uint64]pendingRequest),
		lastSeen: make(map[string]string),
		cache:    LoadCache(cfg.CachePath),
	}
	tx.cond = sync.NewCond(&tx.mu)

	bufReader := bufio.NewReader(conn)
	if err := tx.handshake(bufReader, cfg.ClientID, cfg.ProtocolVersion); err != nil {
		conn.Close()
		return nil, err
	}

	tx.mu.Lock()
	tx.connected = true
	tx.events = append(tx.events, Connected{})
	tx.mu.Unlock()

	go tx.readerLoop(bufReader)
	go tx.writerLoop()

	return tx, nil
}

func (tx *ElectrumTransport) handshake(r *bufio.Reader, clientID, protocolVersion string) error {
	req := rpcRequest{ID: 0, Method: "server.version", Params: []interface{}{clientID, protocolVersion}}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("transport: marshal handshake: %w", err)
	}
	data = append(data, '\n')
	if _, err := tx.conn.Write(data); err != nil {
		return fmt.Errorf("transport: write handshake: %w", err)
	}

	line, err := r.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("transport: read handshake reply: %w", err)
	}

	var resp wireMessage
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("transport: malformed handshake reply: %w", err)
	}
	if isRPCError(resp.Error) {
		return fmt.Errorf("transport: server rejected handshake: %s", resp.Error)
	}
	return nil
}

func isRPCError(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// RegisterScript implements Transport.
func (tx *ElectrumTransport) RegisterScript(hash string, script []byte) {
	tx.enqueue(command{kind: kindSubscribe, hash: hash, script: script})
}

// FetchHistory implements Transport.
func (tx *ElectrumTransport) FetchHistory(hash string) {
	tx.enqueue(command{kind: kindGetHistory, hash: hash})
}

// FetchTransaction implements Transport.
func (tx *ElectrumTransport) FetchTransaction(txid, relatedHash string) {
	tx.enqueue(command{kind: kindGetTransaction, txid: txid, relatedHash: relatedHash})
}

func (tx *ElectrumTransport) enqueue(cmd command) {
	tx.mu.Lock()
	tx.commands = append(tx.commands, cmd)
	tx.mu.Unlock()
	tx.cond.Broadcast()
}

// PollOne implements Transport.
func (tx *ElectrumTransport) PollOne() (Event, bool) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if len(tx.events) == 0 {
		return nil, false
	}
	ev := tx.events[0]
	tx.events = tx.events[1:]
	return ev, true
}

// WaitForWork implements Transport: blocks until an event may be ready, the
// writer wakes the condvar for unrelated reasons, or timeout elapses.
func (tx *ElectrumTransport) WaitForWork(timeout time.Duration) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if len(tx.events) > 0 {
		return
	}
	timer := time.AfterFunc(timeout, func() {
		tx.mu.Lock()
		tx.cond.Broadcast()
		tx.mu.Unlock()
	})
	defer timer.Stop()
	tx.cond.Wait()
}

// Close implements Transport.
func (tx *ElectrumTransport) Close() error {
	tx.mu.Lock()
	tx.connected = false
	tx.mu.Unlock()
	tx.cond.Broadcast()
	return tx.conn.Close()
}

func (tx *ElectrumTransport) pushEvent(ev Event) {
	tx.mu.Lock()
	tx.events = append(tx.events, ev)
	tx.mu.Unlock()
	tx.cond.Broadcast()
}

func (tx *ElectrumTransport) markDisconnected() {
	tx.mu.Lock()
	if !tx.connected {
		tx.mu.Unlock()
		return
	}
	tx.connected = false
	tx.events = append(tx.events, Disconnected{})
	tx.mu.Unlock()
	tx.cond.Broadcast()
}

// writerLoop drains the command queue, translating each command into a
// JSON-RPC request with a freshly allocated monotonic id. The id is
// recorded in the in-flight map before the bytes reach the wire, so a
// reply racing the write can never be unmatched (spec.md §4.D).
func (tx *ElectrumTransport) writerLoop() {
	for {
		tx.mu.Lock()
		for len(tx.commands) == 0 && tx.connected {
			tx.cond.Wait()
		}
		if len(tx.commands) == 0 && !tx.connected {
			tx.mu.Unlock()
			return
		}
		cmd := tx.commands[0]
		tx.commands = tx.commands[1:]
		tx.mu.Unlock()

		if err := tx.sendCommand(cmd); err != nil {
			tx.log.Warn("writer: send failed", "err", err)
			tx.markDisconnected()
			return
		}
	}
}

func (tx *ElectrumTransport) sendCommand(cmd command) error {
	id := tx.nextID.Add(1)

	var method string
	var params []interface{}
	pending := pendingRequest{kind: cmd.kind}

	switch cmd.kind {
	case kindSubscribe:
		method = "blockchain.scripthash.subscribe"
		params = []interface{}{cmd.hash}
		pending.hash = cmd.hash
	case kindGetHistory:
		method = "blockchain.scripthash.get_history"
		params = []interface{}{cmd.hash}
		pending.hash = cmd.hash
	case kindGetTransaction:
		method = "blockchain.transaction.get"
		params = []interface{}{cmd.txid}
		pending.txid = cmd.txid
		pending.relatedHash = cmd.relatedHash
	}

	req := rpcRequest{ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	tx.mu.Lock()
	tx.inFlight[id] = pending
	tx.mu.Unlock()

	_, err = tx.conn.Write(data)
	return err
}

// readerLoop continuously reads newline-delimited JSON objects. Malformed
// lines are logged and discarded; the session continues (spec.md §7).
func (tx *ElectrumTransport) readerLoop(r *bufio.Reader) {
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			tx.markDisconnected()
			return
		}
		tx.handleLine(line)
	}
}

func (tx *ElectrumTransport) handleLine(line []byte) {
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		tx.log.Warn("malformed server line", "raw", string(line))
		return
	}

	if msg.ID == nil {
		if msg.Method == "blockchain.scripthash.subscribe" {
			tx.handleNotification(msg)
			return
		}
		tx.log.Warn("unhandled notification", "method", msg.Method)
		return
	}

	tx.handleResponse(*msg.ID, msg)
}

func (tx *ElectrumTransport) handleNotification(msg wireMessage) {
	var params []json.RawMessage
	if err := json.Unmarshal(msg.Params, &params); err != nil || len(params) != 2 {
		tx.log.Warn("malformed subscription notification", "params", string(msg.Params))
		return
	}
	var hash string
	if err := json.Unmarshal(params[0], &hash); err != nil {
		tx.log.Warn("malformed notification hash", "raw", string(params[0]))
		return
	}
	status := tx.decodeStatus(params[1])

	tx.noteStatus(hash, status)
	tx.pushEvent(StatusChanged{Hash: hash, Status: status})

	if err := tx.cache.SetStatus(hash, status); err != nil {
		tx.log.Warn("cache write failed", "err", err)
	}
}

func (tx *ElectrumTransport) handleResponse(id uint64, msg wireMessage) {
	tx.mu.Lock()
	pending, ok := tx.inFlight[id]
	if ok {
		delete(tx.inFlight, id)
	}
	tx.mu.Unlock()

	if !ok {
		tx.log.Warn("unmatched response id", "id", id)
		return
	}
	if isRPCError(msg.Error) {
		tx.log.Warn("server error response", "method", pending.kind, "error", string(msg.Error))
		return
	}

	switch pending.kind {
	case kindSubscribe:
		tx.handleSubscribeResponse(pending, msg)
	case kindGetHistory:
		tx.handleHistoryResponse(pending, msg)
	case kindGetTransaction:
		tx.handleTransactionResponse(pending, msg)
	}
}

func (tx *ElectrumTransport) handleSubscribeResponse(pending pendingRequest, msg wireMessage) {
	status := tx.decodeStatus(msg.Result)
	tx.noteStatus(pending.hash, status)

	// Instant-resume hook (I6): if the cache already agrees with the
	// server's status and holds a history, replay it synchronously instead
	// of issuing a fresh get_history.
	if entry, ok := tx.cache.Get(pending.hash); ok && entry.Status == status && entry.History != nil {
		tx.pushEvent(HistoryReceived{Hash: pending.hash, Entries: entry.History})
		return
	}

	tx.pushEvent(StatusChanged{Hash: pending.hash, Status: status})
}

func (tx *ElectrumTransport) handleHistoryResponse(pending pendingRequest, msg wireMessage) {
	var entries []HistoryEntry
	if err := json.Unmarshal(msg.Result, &entries); err != nil {
		tx.log.Warn("malformed get_history result", "hash", pending.hash, "err", err)
		return
	}
	tx.pushEvent(HistoryReceived{Hash: pending.hash, Entries: entries})

	status := tx.statusFor(pending.hash)
	if err := tx.cache.Set(pending.hash, status, entries); err != nil {
		tx.log.Warn("cache write failed", "err", err)
	}
}

func (tx *ElectrumTransport) handleTransactionResponse(pending pendingRequest, msg wireMessage) {
	var rawHex string
	if err := json.Unmarshal(msg.Result, &rawHex); err != nil {
		tx.log.Warn("malformed get_transaction result", "txid", pending.txid, "err", err)
		return
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		tx.log.Warn("malformed transaction hex", "txid", pending.txid, "err", err)
		return
	}
	tx.pushEvent(TransactionReceived{Txid: pending.txid, Raw: raw, RelatedHash: pending.relatedHash})
}

func (tx *ElectrumTransport) decodeStatus(raw json.RawMessage) string {
	var status *string
	if err := json.Unmarshal(raw, &status); err != nil || status == nil {
		return ""
	}
	return *status
}

func (tx *ElectrumTransport) noteStatus(hash, status string) {
	tx.mu.Lock()
	tx.lastSeen[hash] = status
	tx.mu.Unlock()
}

func (tx *ElectrumTransport) statusFor(hash string) string {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.lastSeen[hash]
}
