package crypto

import "testing"

const starkTestPriv = "0x3c1e9550e66958296d11b60f8e8e7a7ad990d07da608b54618cde36e0a1f5c87"

// starkTestPayload is the sorted-key JSON form an order payload hashes to.
const starkTestPayload = `{"accountId":"10001","contractId":"BTCUSD","nonce":"1700000000123","price":"50000.00","reduceOnly":false,"side":"BUY","size":"0.500"}`

func TestStarkSignVector(t *testing.T) {
	s, err := NewStarkSigner(starkTestPriv)
	if err != nil {
		t.Fatalf("NewStarkSigner: %v", err)
	}

	wantX := "0x07739ee08d7ae1f3d4f77b7b0a7b8f488199634251b36c77074d7eee98121f96"
	wantY := "0x05a4c40a376ec753ddd8f7c5135799960a72694d7fb08854ace0226950a99896"
	x, y := s.PublicKey()
	if x != wantX || y != wantY {
		t.Errorf("PublicKey = (%s, %s), want (%s, %s)", x, y, wantX, wantY)
	}

	hash := Keccak256([]byte(starkTestPayload))
	wantR := "0x0195273550688258c47053aef1c011e772f2e93f3c9ea640862d980a12a4327e"
	wantS := "0x0135373f4e3900e8f08697b7726ceb404e93b604b1825203e54d1b008fe4843d"

	r, sig := s.Sign(hash)
	if r != wantR || sig != wantS {
		t.Errorf("Sign = (%s, %s), want (%s, %s)", r, sig, wantR, wantS)
	}

	// Deterministic: a second signing yields the identical pair.
	r2, sig2 := s.Sign(hash)
	if r2 != r || sig2 != sig {
		t.Errorf("Sign not deterministic: (%s, %s) vs (%s, %s)", r, sig, r2, sig2)
	}
}

func TestStarkSignVerifies(t *testing.T) {
	s, err := NewStarkSigner(starkTestPriv)
	if err != nil {
		t.Fatalf("NewStarkSigner: %v", err)
	}
	x, y := s.PublicKey()

	hash := Keccak256([]byte("some other payload"))
	r, sig := s.Sign(hash)

	if !StarkVerify(hash, r, sig, x, y) {
		t.Error("signature does not verify")
	}
	if StarkVerify(Keccak256([]byte("tampered")), r, sig, x, y) {
		t.Error("signature verified against a different hash")
	}
}

func TestStarkSignerBadKey(t *testing.T) {
	for _, key := range []string{"", "nothex", "0xzz"} {
		if _, err := NewStarkSigner(key); err == nil {
			t.Errorf("NewStarkSigner(%q) succeeded, want error", key)
		}
	}
}
