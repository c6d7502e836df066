// Package chain defines chain parameters and BIP44 derivation paths for the
// Bitcoin-family network this wallet synchronizer tracks.
package chain

// Network represents mainnet or testnet.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// AddressType represents the address encoding format.
type AddressType string

const (
	AddressP2PKH  AddressType = "p2pkh"  // Legacy (1...)
	AddressP2SH   AddressType = "p2sh"   // Script hash (3...)
	AddressP2WPKH AddressType = "p2wpkh" // Native SegWit (bc1q...)
	AddressP2WSH  AddressType = "p2wsh"  // SegWit script (bc1q...)
	AddressP2TR   AddressType = "p2tr"   // Taproot (bc1p...)
)

// Params contains the parameters needed to derive and encode addresses for
// a Bitcoin-like network.
type Params struct {
	Symbol   string // BTC
	Name     string // Bitcoin, Bitcoin Testnet
	Decimals uint8

	// BIP44 derivation
	CoinType       uint32 // BIP44 coin type (0 = BTC mainnet, 1 = any testnet)
	DefaultPurpose uint32 // 44, 49, or 84 (BIP84 native SegWit)

	// Address prefixes
	PubKeyHashAddrID        byte
	ScriptHashAddrID        byte
	WitnessPubKeyHashAddrID byte // SegWit P2WPKH version byte (unused by mainnet bech32 encoding)
	WitnessScriptHashAddrID byte // SegWit P2WSH version byte (unused by mainnet bech32 encoding)
	Bech32HRP               string
	WIF                     byte

	// BIP32 HD key magic bytes (for xpub/xprv serialization)
	HDPrivateKeyID [4]byte
	HDPublicKeyID  [4]byte

	SupportsSegWit  bool
	SupportsTaproot bool

	DefaultAddressType AddressType
}

// DerivationPath returns the BIP44/84 derivation path for this network.
// Format: m/purpose'/coin'/account'/change/index
func (p *Params) DerivationPath(account, change, index uint32) []uint32 {
	return []uint32{
		p.DefaultPurpose + 0x80000000,
		p.CoinType + 0x80000000,
		account + 0x80000000,
		change,
		index,
	}
}

// DerivationPathString returns the derivation path in the conventional
// m/purpose'/coin'/account'/change/index notation.
func (p *Params) DerivationPathString(account, change, index uint32) string {
	return formatPath(p.DefaultPurpose, p.CoinType, account, change, index)
}

func formatPath(purpose, coinType, account, change, index uint32) string {
	return "m/" +
		itoa(purpose) + "'/" +
		itoa(coinType) + "'/" +
		itoa(account) + "'/" +
		itoa(change) + "/" +
		itoa(index)
}

func itoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// registry holds chain parameters indexed by symbol and network.
var registry = make(map[string]map[Network]*Params)

// Register adds chain params to the registry.
func Register(symbol string, network Network, params *Params) {
	if registry[symbol] == nil {
		registry[symbol] = make(map[Network]*Params)
	}
	registry[symbol][network] = params
}

// Get returns chain params for a symbol and network.
func Get(symbol string, network Network) (*Params, bool) {
	nets, ok := registry[symbol]
	if !ok {
		return nil, false
	}
	params, ok := nets[network]
	return params, ok
}

// IsSupported returns true if the chain is registered.
func IsSupported(symbol string) bool {
	_, ok := registry[symbol]
	return ok
}
