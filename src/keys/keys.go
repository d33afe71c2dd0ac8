// Package keys handles the key pairs that give endpoints their overlay
// identity. An endpoint's id is the 32-bit hash of its public key.
package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcec"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/message"
)

// scalarLen is the byte length of a secp256k1 private scalar.
const scalarLen = 32

// GenerateKey creates a new secp256k1 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	key, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, err
	}
	return key.ToECDSA(), nil
}

// EncodeKey renders the key's scalar as padded hex, the keyfile format.
func EncodeKey(key *ecdsa.PrivateKey) string {
	if key == nil {
		return ""
	}
	return hex.EncodeToString((*btcec.PrivateKey)(key).Serialize())
}

// DecodeKey parses a hex scalar back into a private key. The scalar
// must be exactly 32 bytes, non-zero, and below the curve order.
func DecodeKey(s string) (*ecdsa.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, common.NewWeftErr("keys", common.InvalidArgument,
			"key scalar is not valid hex")
	}
	if len(raw) != scalarLen {
		return nil, common.NewWeftErr("keys", common.InvalidArgument,
			"key scalar must be 32 bytes")
	}
	d := new(big.Int).SetBytes(raw)
	if d.Sign() == 0 || d.Cmp(btcec.S256().N) >= 0 {
		return nil, common.NewWeftErr("keys", common.InvalidArgument,
			"key scalar outside the valid range")
	}
	key, _ := btcec.PrivKeyFromBytes(btcec.S256(), raw)
	return key.ToECDSA(), nil
}

// PublicKeyBytes marshals the public key in uncompressed form, the
// input to the endpoint id hash.
func PublicKeyBytes(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return (*btcec.PublicKey)(pub).SerializeUncompressed()
}

// PublicKeyHex ...
func PublicKeyHex(pub *ecdsa.PublicKey) string {
	return common.EncodeToString(PublicKeyBytes(pub))
}

// EndpointID derives an endpoint's overlay id from its public key.
// There is obviously a risk of collision here; the 32-bit id keeps the
// wire header of every forwarded message small.
func EndpointID(pub *ecdsa.PublicKey) message.EndpointID {
	return message.EndpointID(common.Hash32(PublicKeyBytes(pub)))
}
