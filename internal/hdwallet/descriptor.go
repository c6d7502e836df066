package hdwallet

import "github.com/klingon-tech/walletsync/internal/tracker"

// KeychainDescriptor adapts a Wallet's external or internal (change) chain
// into the tracker.Descriptor interface: a deterministic index-to-script
// function. spec.md §3 treats descriptors as opaque collaborators; this is
// the concrete implementation the CLI and integration tests drive.
type KeychainDescriptor struct {
	wallet *Wallet
	change uint32
}

// External returns the descriptor for the wallet's receive chain (change=0).
func External(w *Wallet) *KeychainDescriptor {
	return &KeychainDescriptor{wallet: w, change: 0}
}

// Internal returns the descriptor for the wallet's change chain (change=1).
func Internal(w *Wallet) *KeychainDescriptor {
	return &KeychainDescriptor{wallet: w, change: 1}
}

// Script derives the output script at the given index.
func (d *KeychainDescriptor) Script(index uint32) ([]byte, error) {
	if err := ValidateAddressIndex(index); err != nil {
		return nil, err
	}
	return d.wallet.ScriptPubKey(d.change, index)
}

// Equal reports whether two descriptors derive from the same wallet seed
// and change chain. It satisfies the optional equatable interface
// tracker.Tracker looks for when deciding whether insert_descriptor's
// (K, descriptor) pair matches what is already stored (spec.md §4.A).
func (d *KeychainDescriptor) Equal(other tracker.Descriptor) bool {
	o, ok := other.(*KeychainDescriptor)
	if !ok || o == nil {
		return false
	}
	return d.wallet == o.wallet && d.change == o.change
}
