package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"math/big"
)

// --------------------------------------------------------------------------
// STARK curve parameters: y^2 = x^3 + a*x + b over the prime field of order
// p = 2^251 + 17*2^192 + 1, with subgroup order n.
// --------------------------------------------------------------------------

var (
	starkP = mustBig("800000000000011000000000000000000000000000000000000000000000001", 16)
	starkA = big.NewInt(1)
	starkB = mustBig("3141592653589793238462643383279502884197169399375105820974944592307816406665", 10)
	starkN = mustBig("3618502788666131213697322783095070105526743751716087489154079457884512865583", 10)
	starkG = &starkPoint{
		x: mustBig("874739451078007766457464989774322083649278607533249481151382481072868806602", 10),
		y: mustBig("152666792071518830868575557812948353041420400780739481342941381225525861407", 10),
	}
)

func mustBig(s string, base int) *big.Int {
	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		panic("crypto/stark: bad constant " + s)
	}
	return n
}

// starkPoint is an affine point; nil represents the point at infinity.
type starkPoint struct {
	x, y *big.Int
}

// StarkSigner produces ECDSA signatures over the STARK curve. Signing is
// deterministic: the nonce is derived from the private key and the message
// hash, so a given (key, hash) pair always yields the same (r, s).
type StarkSigner struct {
	priv *big.Int
	pub  *starkPoint
}

// NewStarkSigner builds a signer from a hex-encoded private key
// (optionally 0x-prefixed). Keys are reduced into the subgroup order.
func NewStarkSigner(privHex string) (*StarkSigner, error) {
	k, err := NormalizeHexKey(privHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/stark: %w", err)
	}
	d, ok := new(big.Int).SetString(k, 16)
	if !ok {
		return nil, fmt.Errorf("crypto/stark: invalid private key %q", privHex)
	}
	d.Mod(d, starkN)
	if d.Sign() == 0 {
		return nil, fmt.Errorf("crypto/stark: private key reduces to zero")
	}
	return &StarkSigner{priv: d, pub: starkScalarMul(d, starkG)}, nil
}

// PublicKey returns the affine public key coordinates as 0x-prefixed,
// 64-digit hex strings.
func (s *StarkSigner) PublicKey() (x, y string) {
	return fmt.Sprintf("0x%064x", s.pub.x), fmt.Sprintf("0x%064x", s.pub.y)
}

// Sign signs the 32-byte message hash and returns r and s as 0x-prefixed,
// 64-digit hex strings. The hash is reduced into the subgroup order
// before signing.
func (s *StarkSigner) Sign(hash []byte) (r, sig string) {
	h := new(big.Int).SetBytes(hash)
	h.Mod(h, starkN)

	ri, si := s.signReduced(h)
	return fmt.Sprintf("0x%064x", ri), fmt.Sprintf("0x%064x", si)
}

// signReduced implements ECDSA with a counter-based deterministic nonce:
// k = HMAC-SHA256(priv, hash || counter) mod n, retried on degenerate
// values.
func (s *StarkSigner) signReduced(h *big.Int) (r, sig *big.Int) {
	priv32 := leftPad32(s.priv)
	h32 := leftPad32(h)

	for ctr := byte(0); ; ctr++ {
		mac := hmac.New(sha256.New, priv32)
		mac.Write(h32)
		mac.Write([]byte{ctr})
		k := new(big.Int).SetBytes(mac.Sum(nil))
		k.Mod(k, starkN)
		if k.Sign() == 0 {
			continue
		}

		pt := starkScalarMul(k, starkG)
		r = new(big.Int).Mod(pt.x, starkN)
		if r.Sign() == 0 {
			continue
		}

		kInv := new(big.Int).ModInverse(k, starkN)
		sig = new(big.Int).Mul(r, s.priv)
		sig.Add(sig, h)
		sig.Mul(sig, kInv)
		sig.Mod(sig, starkN)
		if sig.Sign() == 0 {
			continue
		}
		return r, sig
	}
}

// StarkVerify checks an (r, s) signature over hash against the public key
// (pubX, pubY). All values are hex strings with optional 0x prefix.
func StarkVerify(hash []byte, rHex, sHex, pubXHex, pubYHex string) bool {
	r, ok1 := parseStarkHex(rHex)
	si, ok2 := parseStarkHex(sHex)
	px, ok3 := parseStarkHex(pubXHex)
	py, ok4 := parseStarkHex(pubYHex)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}
	if r.Sign() <= 0 || r.Cmp(starkN) >= 0 || si.Sign() <= 0 || si.Cmp(starkN) >= 0 {
		return false
	}

	h := new(big.Int).SetBytes(hash)
	h.Mod(h, starkN)

	w := new(big.Int).ModInverse(si, starkN)
	u1 := new(big.Int).Mul(h, w)
	u1.Mod(u1, starkN)
	u2 := new(big.Int).Mul(r, w)
	u2.Mod(u2, starkN)

	pub := &starkPoint{x: px, y: py}
	pt := starkAdd(starkScalarMul(u1, starkG), starkScalarMul(u2, pub))
	if pt == nil {
		return false
	}
	return new(big.Int).Mod(pt.x, starkN).Cmp(r) == 0
}

// --------------------------------------------------------------------------
// Curve arithmetic
// --------------------------------------------------------------------------

func starkAdd(p1, p2 *starkPoint) *starkPoint {
	if p1 == nil {
		return p2
	}
	if p2 == nil {
		return p1
	}

	var lam *big.Int
	if p1.x.Cmp(p2.x) == 0 {
		sum := new(big.Int).Add(p1.y, p2.y)
		if sum.Mod(sum, starkP).Sign() == 0 {
			return nil
		}
		// lambda = (3x^2 + a) / 2y
		num := new(big.Int).Mul(p1.x, p1.x)
		num.Mul(num, big.NewInt(3))
		num.Add(num, starkA)
		den := new(big.Int).Lsh(p1.y, 1)
		lam = new(big.Int).Mul(num, new(big.Int).ModInverse(den.Mod(den, starkP), starkP))
	} else {
		// lambda = (y2 - y1) / (x2 - x1)
		num := new(big.Int).Sub(p2.y, p1.y)
		den := new(big.Int).Sub(p2.x, p1.x)
		lam = new(big.Int).Mul(num, new(big.Int).ModInverse(den.Mod(den, starkP), starkP))
	}
	lam.Mod(lam, starkP)

	x3 := new(big.Int).Mul(lam, lam)
	x3.Sub(x3, p1.x)
	x3.Sub(x3, p2.x)
	x3.Mod(x3, starkP)

	y3 := new(big.Int).Sub(p1.x, x3)
	y3.Mul(y3, lam)
	y3.Sub(y3, p1.y)
	y3.Mod(y3, starkP)

	return &starkPoint{x: x3, y: y3}
}

func starkScalarMul(k *big.Int, p *starkPoint) *starkPoint {
	var result *starkPoint
	addend := p
	for i := 0; i < k.BitLen(); i++ {
		if k.Bit(i) == 1 {
			result = starkAdd(result, addend)
		}
		addend = starkAdd(addend, addend)
	}
	return result
}

func parseStarkHex(s string) (*big.Int, bool) {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return new(big.Int).SetString(s, 16)
}

func leftPad32(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}
