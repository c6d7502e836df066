package orchestrator

import (
	"encoding/hex"
	"testing"
	"time"
)

// genesisCoinbaseHex is the Bitcoin genesis block's coinbase transaction,
// paying out 50 BTC to a single output — a stable, well-known fixture.
const genesisCoinbaseHex = "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff4d04ffff001d0104455468652054696d65732030332f4a616e2f32303039204368616e63656c6c6f72206f6e206272696e6b206f66207365636f6e64206261696c6f757420666f722062616e6b73ffffffff0100f2052a01000000434104678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fac00000000"

const genesisCoinbaseTxid = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

func TestTransactionReceivedForwardsUpdate(t *testing.T) {
	raw, err := hex.DecodeString(genesisCoinbaseHex)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}

	o := New(1)
	seenAt := int64(1_700_000_000)
	o.TransactionReceived(raw, seenAt)

	select {
	case update := <-o.Updates():
		tx, ok := update.(TransactionUpdate)
		if !ok {
			t.Fatalf("expected TransactionUpdate, got %T", update)
		}
		if tx.Txid != genesisCoinbaseTxid {
			t.Errorf("Txid = %s, want %s", tx.Txid, genesisCoinbaseTxid)
		}
		if tx.TotalOutputSatoshis != 50_0000_0000 {
			t.Errorf("TotalOutputSatoshis = %d, want 5000000000", tx.TotalOutputSatoshis)
		}
		if !tx.SeenAt.Equal(time.Unix(seenAt, 0).UTC()) {
			t.Errorf("SeenAt = %v, want %v", tx.SeenAt, time.Unix(seenAt, 0).UTC())
		}
	default:
		t.Fatal("expected an update on the channel")
	}
}

func TestTransactionReceivedDropsUndecodable(t *testing.T) {
	o := New(1)
	o.TransactionReceived([]byte("not a transaction"), 0)

	select {
	case update := <-o.Updates():
		t.Fatalf("expected no update for undecodable bytes, got %v", update)
	default:
	}
}

func TestLookaheadSlideForwardsUpdate(t *testing.T) {
	o := New(1)
	o.LookaheadSlide("external", 42)

	select {
	case update := <-o.Updates():
		slide, ok := update.(LookaheadUpdate)
		if !ok {
			t.Fatalf("expected LookaheadUpdate, got %T", update)
		}
		if slide.Keychain != "external" || slide.HighestRevealedIndex != 42 {
			t.Errorf("unexpected update: %+v", slide)
		}
	default:
		t.Fatal("expected an update on the channel")
	}
}
