package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
)

// Seed and public key from the ed25519 reference test vectors.
const (
	ed25519TestSeed = "4ccd089b28ff96da9db6c346ec114e0f5b8a319f35aba624da8cf6ed4fb8a6fb"
	ed25519TestPub  = "3d4017c3e843895a92b70aa74d1b7ebc9c982ccf2ec4968cc0cd55f12af4660c"
)

func TestEd25519PublicKey(t *testing.T) {
	s, err := NewEd25519Signer(ed25519TestSeed)
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}
	if got := s.PublicKeyHex(); got != ed25519TestPub {
		t.Errorf("PublicKeyHex = %s, want %s", got, ed25519TestPub)
	}
}

func TestEd25519SignVector(t *testing.T) {
	s, err := NewEd25519Signer("0x" + ed25519TestSeed)
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}

	msg := `1700000000123POST/v1/order{"symbol":"PERP_BTC_USDC","order_type":"LIMIT","side":"BUY","order_price":50000,"order_quantity":0.5}`
	want := "Hd-rjKppqeAELNwJBKFHubN99pip6nsGjlO5pOyCBnh8TGLyEFJQLbwwfsRDkyRfEZv_RCoYRrcP-gnrrxO1Bg"

	got := s.Sign([]byte(msg))
	if got != want {
		t.Errorf("Sign = %s, want %s", got, want)
	}

	// The base64url signature must verify against the raw public key.
	sig, err := base64.RawURLEncoding.DecodeString(got)
	if err != nil {
		t.Fatalf("decoding signature: %v", err)
	}
	pub, err := base64.RawURLEncoding.DecodeString(s.PublicKeyBase64())
	if err != nil {
		t.Fatalf("decoding public key: %v", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(msg), sig) {
		t.Error("signature does not verify")
	}
}

func TestEd25519BadSeed(t *testing.T) {
	cases := []string{
		"",
		"zz",
		"abcd",                      // too short
		ed25519TestSeed + "00",      // too long
		ed25519TestSeed[:62] + "g0", // not hex
	}
	for _, seed := range cases {
		if _, err := NewEd25519Signer(seed); err == nil {
			t.Errorf("NewEd25519Signer(%q) succeeded, want error", seed)
		}
	}
}
