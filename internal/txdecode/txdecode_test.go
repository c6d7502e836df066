package txdecode

import "testing"

// genesisCoinbaseHex is the Bitcoin genesis block's coinbase transaction —
// a widely known, stable legacy-serialized transaction used here purely as
// a deterministic decode fixture.
const genesisCoinbaseHex = "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff4d04ffff001d0104455468652054696d65732030332f4a616e2f32303039204368616e63656c6c6f72206f6e206272696e6b206f66207365636f6e64206261696c6f757420666f722062616e6b73ffffffff0100f2052a01000000434104678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fac00000000"

const genesisCoinbaseTxid = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

func TestDecodeHex(t *testing.T) {
	tx, err := DecodeHex(genesisCoinbaseHex)
	if err != nil {
		t.Fatalf("DecodeHex() error = %v", err)
	}
	if tx.Txid != genesisCoinbaseTxid {
		t.Errorf("Txid = %s, want %s", tx.Txid, genesisCoinbaseTxid)
	}
	if len(tx.Msg.TxOut) != 1 {
		t.Errorf("len(TxOut) = %d, want 1", len(tx.Msg.TxOut))
	}
	if len(tx.Msg.TxIn) != 1 {
		t.Errorf("len(TxIn) = %d, want 1", len(tx.Msg.TxIn))
	}
}

func TestDecodeHexInvalid(t *testing.T) {
	if _, err := DecodeHex("not-hex"); err == nil {
		t.Fatal("expected error decoding invalid hex")
	}
	if _, err := DecodeHex("deadbeef"); err == nil {
		t.Fatal("expected error decoding truncated transaction bytes")
	}
}

func TestDecodePreservesRawBytesImmutably(t *testing.T) {
	tx, err := DecodeHex(genesisCoinbaseHex)
	if err != nil {
		t.Fatalf("DecodeHex() error = %v", err)
	}
	original := append([]byte(nil), tx.Raw...)
	tx.Raw[0] = 0xff
	tx2, err := DecodeHex(genesisCoinbaseHex)
	if err != nil {
		t.Fatalf("DecodeHex() error = %v", err)
	}
	if string(tx2.Raw) != string(original) {
		t.Error("mutating one decoded transaction's Raw affected a fresh decode")
	}
}
