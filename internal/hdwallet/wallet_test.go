package hdwallet

import (
	"testing"

	"github.com/klingon-tech/walletsync/internal/chain"
	"github.com/klingon-tech/walletsync/internal/tracker"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestNewFromMnemonic(t *testing.T) {
	w, err := New(testMnemonic, "", chain.Mainnet)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if w.Network() != chain.Mainnet {
		t.Errorf("Network() = %s, want mainnet", w.Network())
	}
}

func TestNewFromMnemonicRejectsInvalid(t *testing.T) {
	if _, err := New("not a real mnemonic at all nope", "", chain.Mainnet); err == nil {
		t.Fatal("expected error for invalid mnemonic")
	}
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	w, err := New(testMnemonic, "", chain.Mainnet)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	addr1, err := w.Address(0, 0)
	if err != nil {
		t.Fatalf("Address() error = %v", err)
	}
	addr2, err := w.Address(0, 0)
	if err != nil {
		t.Fatalf("Address() error = %v", err)
	}
	if addr1 != addr2 {
		t.Errorf("Address(0,0) not deterministic: %s != %s", addr1, addr2)
	}

	other, err := w.Address(0, 1)
	if err != nil {
		t.Fatalf("Address() error = %v", err)
	}
	if other == addr1 {
		t.Error("Address(0,1) should differ from Address(0,0)")
	}
}

func TestAddressIsBech32(t *testing.T) {
	w, err := New(testMnemonic, "", chain.Mainnet)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	addr, err := w.Address(0, 0)
	if err != nil {
		t.Fatalf("Address() error = %v", err)
	}
	if addr[:3] != "bc1" {
		t.Errorf("Address() = %s, want bc1 prefix", addr)
	}
	if !ValidateAddress(addr, mustParams(t, chain.Mainnet)) {
		t.Errorf("ValidateAddress(%s) = false, want true", addr)
	}
}

func TestDerivationPath(t *testing.T) {
	w, err := New(testMnemonic, "", chain.Mainnet)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	path := w.DerivationPath(0, 5)
	if path != "m/84'/0'/0'/0/5" {
		t.Errorf("DerivationPath(0,5) = %s, want m/84'/0'/0'/0/5", path)
	}
}

func TestKeychainDescriptorScript(t *testing.T) {
	w, err := New(testMnemonic, "", chain.Mainnet)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ext := External(w)
	s1, err := ext.Script(0)
	if err != nil {
		t.Fatalf("Script(0) error = %v", err)
	}
	s2, err := ext.Script(0)
	if err != nil {
		t.Fatalf("Script(0) error = %v", err)
	}
	if string(s1) != string(s2) {
		t.Error("Script(0) not deterministic across calls")
	}

	internal := Internal(w)
	if ext.Equal(internal) {
		t.Error("external and internal descriptors should not be equal")
	}
	if !ext.Equal(External(w)) {
		t.Error("two external descriptors over the same wallet should be equal")
	}
}

func TestTrackerInsertDescriptorUsesEqualNotIdentity(t *testing.T) {
	w, err := New(testMnemonic, "", chain.Mainnet)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tr := tracker.New(4)
	if _, err := tr.InsertDescriptor("external", External(w), 0); err != nil {
		t.Fatalf("first InsertDescriptor() error = %v", err)
	}

	// A distinct *KeychainDescriptor instance over the same wallet/chain
	// must still be recognized as "the same descriptor" (Equal, not
	// pointer identity), so the second insert is the documented no-op.
	recs, err := tr.InsertDescriptor("external", External(w), 0)
	if err != nil {
		t.Fatalf("second InsertDescriptor() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("InsertDescriptor() with an Equal-but-distinct descriptor returned %d records, want 0", len(recs))
	}
	if len(tr.All()) != 4 {
		t.Errorf("tracker state changed: len(All()) = %d, want 4", len(tr.All()))
	}
}

func TestWIFRoundTrip(t *testing.T) {
	w, err := New(testMnemonic, "", chain.Mainnet)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	priv, err := w.PrivateKey(0, 0)
	if err != nil {
		t.Fatalf("PrivateKey() error = %v", err)
	}
	params := mustParams(t, chain.Mainnet)

	wif, err := PrivateKeyToWIF(priv, params)
	if err != nil {
		t.Fatalf("PrivateKeyToWIF() error = %v", err)
	}

	recovered, err := WIFToPrivateKey(wif, params)
	if err != nil {
		t.Fatalf("WIFToPrivateKey() error = %v", err)
	}
	if string(recovered.Serialize()) != string(priv.Serialize()) {
		t.Error("recovered private key does not match original")
	}
}

func TestEncryptDecryptMnemonicRoundTrip(t *testing.T) {
	password := "correct horse battery staple 9!"
	encrypted, err := EncryptMnemonic(testMnemonic, password)
	if err != nil {
		t.Fatalf("EncryptMnemonic() error = %v", err)
	}

	decrypted, err := DecryptMnemonic(encrypted, password)
	if err != nil {
		t.Fatalf("DecryptMnemonic() error = %v", err)
	}
	if decrypted != testMnemonic {
		t.Errorf("DecryptMnemonic() = %q, want %q", decrypted, testMnemonic)
	}

	if _, err := DecryptMnemonic(encrypted, "wrong password entirely 9!"); err == nil {
		t.Error("expected error decrypting with wrong password")
	}
}

func TestEncryptedSeedFileRoundTrip(t *testing.T) {
	password := "correct horse battery staple 9!"
	encrypted, err := EncryptMnemonic(testMnemonic, password)
	if err != nil {
		t.Fatalf("EncryptMnemonic() error = %v", err)
	}

	path := t.TempDir() + "/seed.json"
	if err := SaveEncryptedSeed(encrypted, path); err != nil {
		t.Fatalf("SaveEncryptedSeed() error = %v", err)
	}

	loaded, err := LoadEncryptedSeed(path)
	if err != nil {
		t.Fatalf("LoadEncryptedSeed() error = %v", err)
	}

	decrypted, err := DecryptMnemonic(loaded, password)
	if err != nil {
		t.Fatalf("DecryptMnemonic() error = %v", err)
	}
	if decrypted != testMnemonic {
		t.Errorf("round-tripped mnemonic = %q, want %q", decrypted, testMnemonic)
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		wantErr  bool
	}{
		{"short1!", true},
		{"alllowercase", true},
		{"Aa1!Aa1!", false},
		{"nouppercase1!", false},
	}
	for _, tc := range tests {
		err := ValidatePassword(tc.password)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidatePassword(%q) error = %v, wantErr %v", tc.password, err, tc.wantErr)
		}
	}
}

func mustParams(t *testing.T, network chain.Network) *chain.Params {
	t.Helper()
	params, ok := chain.Get("BTC", network)
	if !ok {
		t.Fatalf("BTC %s not registered", network)
	}
	return params
}
