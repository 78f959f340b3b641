package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// EthSigner signs order payloads for venues that authenticate with an
// Ethereum key: the ABI-encoded order fields are keccak-hashed, wrapped in
// the personal-message prefix, and signed with secp256k1.
type EthSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewEthSigner creates a signer from a hex-encoded secp256k1 private key
// (optionally 0x-prefixed).
func NewEthSigner(privateKeyHex string) (*EthSigner, error) {
	keyHex, err := NormalizeHexKey(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/eth: %w", err)
	}
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/eth: invalid private key: %w", err)
	}
	return &EthSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's key.
func (s *EthSigner) Address() common.Address {
	return s.address
}

// SignPersonal wraps the 32-byte hash in the Ethereum signed-message
// prefix, keccak-hashes the result, and signs it. The returned string is a
// hex-encoded 65-byte signature (r || s || v) with v in {27, 28}.
func (s *EthSigner) SignPersonal(hash []byte) (string, error) {
	digest := PersonalDigest(hash)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/eth: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// PersonalDigest returns keccak256("\x19Ethereum Signed Message:\n32" || hash).
func PersonalDigest(hash []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(hash))
	return ethcrypto.Keccak256([]byte(prefix), hash)
}

// --------------------------------------------------------------------------
// Solidity ABI encoding (the static subset venue order payloads need)
// --------------------------------------------------------------------------

// ABIValue is a single argument for ABIEncode.
type ABIValue struct {
	kind string
	num  *big.Int
	str  string
	flag bool
}

// ABIUint256 wraps an unsigned integer argument.
func ABIUint256(v *big.Int) ABIValue { return ABIValue{kind: "uint256", num: v} }

// ABIUint64 wraps a uint64 argument as uint256.
func ABIUint64(v uint64) ABIValue { return ABIValue{kind: "uint256", num: new(big.Int).SetUint64(v)} }

// ABIString wraps a dynamic string argument.
func ABIString(v string) ABIValue { return ABIValue{kind: "string", str: v} }

// ABIBool wraps a boolean argument.
func ABIBool(v bool) ABIValue { return ABIValue{kind: "bool", flag: v} }

// ABIEncode implements abi.encode for uint256, bool, and string arguments:
// a head of 32-byte slots, with dynamic values stored in the tail and
// referenced by byte offset.
func ABIEncode(args ...ABIValue) []byte {
	headSize := 32 * len(args)
	head := make([]byte, 0, headSize)
	var tail []byte

	for _, a := range args {
		switch a.kind {
		case "uint256":
			head = append(head, bigIntTo32Bytes(a.num)...)
		case "bool":
			v := big.NewInt(0)
			if a.flag {
				v = big.NewInt(1)
			}
			head = append(head, bigIntTo32Bytes(v)...)
		case "string":
			offset := big.NewInt(int64(headSize + len(tail)))
			head = append(head, bigIntTo32Bytes(offset)...)
			tail = append(tail, encodeABIString(a.str)...)
		}
	}
	return append(head, tail...)
}

// encodeABIString encodes length || data, zero-padded to a 32-byte boundary.
func encodeABIString(s string) []byte {
	b := []byte(s)
	out := bigIntTo32Bytes(big.NewInt(int64(len(b))))
	out = append(out, b...)
	if pad := (32 - len(b)%32) % 32; pad > 0 {
		out = append(out, make([]byte, pad)...)
	}
	return out
}

// Keccak256 hashes data with legacy Keccak-256.
func Keccak256(data ...[]byte) []byte {
	return ethcrypto.Keccak256(data...)
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}
