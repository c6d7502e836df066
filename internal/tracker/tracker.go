// Package tracker implements the derived-SPK tracker (spec.md §4.A): a
// deterministic map between descriptor indices and script-hashes that
// slides its lookahead window as usage is observed. It performs no I/O and
// has no failure modes of its own; it is pure domain state, grounded on
// the teacher's internal/wallet/utxo_sync.go gap-limit scanning loop,
// reshaped into a synchronous, side-effect-free data structure instead of
// a background-goroutine scanner.
package tracker

import (
	"fmt"

	"github.com/klingon-tech/walletsync/internal/scripthash"
)

// Keychain tags an address family within a wallet ("external", "internal").
type Keychain string

// Descriptor deterministically produces the output script at an index.
// It is an opaque collaborator (spec.md §3); hdwallet.KeychainDescriptor is
// the concrete implementation this repository ships.
type Descriptor interface {
	Script(index uint32) ([]byte, error)
}

// ScriptRecord is (K, i, script_bytes, H), owned exclusively by the
// Tracker. Callers receive pointers into the tracker's own storage rather
// than copies, per spec.md §3 ("cloned as needed").
type ScriptRecord struct {
	Keychain Keychain
	Index    uint32
	Script   []byte
	Hash     string
}

type keychainState struct {
	descriptor  Descriptor
	nextUnused  uint32 // raised by MarkUsedAndDeriveNew
	derivedUpTo uint32 // one past the highest derived index
	records     []*ScriptRecord
}

// Tracker holds, per keychain, the descriptor, the next unused index, and
// the ordered list of derived script records, plus a global reverse index
// from H to its record.
type Tracker struct {
	lookahead uint32
	keychains map[Keychain]*keychainState
	reverse   map[string]*ScriptRecord
	order     []*ScriptRecord
}

// New creates a tracker with the given lookahead (spec.md default 20; the
// deployed system uses 50 — callers choose via construction, never hardcode).
func New(lookahead uint32) *Tracker {
	return &Tracker{
		lookahead: lookahead,
		keychains: make(map[Keychain]*keychainState),
		reverse:   make(map[string]*ScriptRecord),
	}
}

// Lookahead returns the configured lookahead window.
func (t *Tracker) Lookahead() uint32 {
	return t.lookahead
}

// InsertDescriptor registers (or re-registers) a keychain's descriptor.
//
// If K already holds the identical descriptor, this is a no-op (idempotent,
// empty result). If K holds a different descriptor, all of K's existing
// scripts are dropped from the reverse index and derivation restarts from
// nextIndex. Otherwise indices [nextIndex, nextIndex+lookahead) are derived
// and returned in index order.
func (t *Tracker) InsertDescriptor(k Keychain, d Descriptor, nextIndex uint32) ([]*ScriptRecord, error) {
	if state, exists := t.keychains[k]; exists {
		if sameDescriptor(state.descriptor, d) {
			return nil, nil
		}
		t.forget(state)
		delete(t.keychains, k)
	}

	state := &keychainState{descriptor: d, nextUnused: nextIndex, derivedUpTo: nextIndex}
	t.keychains[k] = state

	return t.deriveRange(k, state, nextIndex, nextIndex+t.lookahead)
}

// MarkUsedAndDeriveNew raises K's watermark to at least i+1 and derives any
// indices needed to keep the lookahead window covering it. Returns only
// newly derived scripts; calling twice with the same i is a no-op.
func (t *Tracker) MarkUsedAndDeriveNew(k Keychain, i uint32) ([]*ScriptRecord, error) {
	state, ok := t.keychains[k]
	if !ok {
		return nil, fmt.Errorf("tracker: unknown keychain %q", k)
	}

	if i+1 <= state.nextUnused {
		return nil, nil
	}
	state.nextUnused = i + 1

	target := state.nextUnused + t.lookahead
	if target <= state.derivedUpTo {
		return nil, nil
	}

	from := state.derivedUpTo
	new, err := t.deriveRange(k, state, from, target)
	if err != nil {
		return nil, err
	}
	state.derivedUpTo = target
	return new, nil
}

// Lookup resolves a script-hash to its (K, i, script_bytes) record.
func (t *Tracker) Lookup(hash string) (*ScriptRecord, bool) {
	rec, ok := t.reverse[hash]
	return rec, ok
}

// All returns every derived record across every keychain, in the
// deterministic order they were derived.
func (t *Tracker) All() []*ScriptRecord {
	return t.order
}

func (t *Tracker) deriveRange(k Keychain, state *keychainState, from, to uint32) ([]*ScriptRecord, error) {
	if to <= from {
		return nil, nil
	}
	out := make([]*ScriptRecord, 0, to-from)
	for idx := from; idx < to; idx++ {
		script, err := state.descriptor.Script(idx)
		if err != nil {
			return nil, fmt.Errorf("tracker: derive %s[%d]: %w", k, idx, err)
		}
		rec := &ScriptRecord{
			Keychain: k,
			Index:    idx,
			Script:   script,
			Hash:     scripthash.Hash(script),
		}
		state.records = append(state.records, rec)
		t.reverse[rec.Hash] = rec
		t.order = append(t.order, rec)
		out = append(out, rec)
	}
	if to > state.derivedUpTo {
		state.derivedUpTo = to
	}
	return out, nil
}

func (t *Tracker) forget(state *keychainState) {
	for _, rec := range state.records {
		delete(t.reverse, rec.Hash)
	}
	filtered := t.order[:0]
	dropped := make(map[*ScriptRecord]bool, len(state.records))
	for _, rec := range state.records {
		dropped[rec] = true
	}
	for _, rec := range t.order {
		if !dropped[rec] {
			filtered = append(filtered, rec)
		}
	}
	t.order = filtered
}

// equatableDescriptor is the optional interface a Descriptor may implement
// to define its own equality (e.g. "same wallet seed and change chain"
// rather than pointer identity). hdwallet.KeychainDescriptor implements it.
type equatableDescriptor interface {
	Equal(Descriptor) bool
}

// sameDescriptor reports whether two descriptors are equal for
// insert_descriptor's idempotency contract (spec.md §4.A). If a descriptor
// implements equatableDescriptor, that definition of equality is used;
// otherwise descriptors are compared by identity, which is sufficient for
// implementations backed by comparable (typically pointer) types.
func sameDescriptor(a, b Descriptor) (equal bool) {
	if eq, ok := a.(equatableDescriptor); ok {
		return eq.Equal(b)
	}
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return a == b
}
