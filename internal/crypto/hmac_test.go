package crypto

import (
	"strings"
	"testing"
)

func TestHMACSignHex(t *testing.T) {
	auth := &HMACAuth{Key: "test-api-key", Secret: "fundarb-test-secret"}

	payload := "price=50000.00&quantity=0.500&recvWindow=5000&side=BUY&symbol=BTCUSDT&timestamp=1700000000000&type=LIMIT"
	want := "0ea0fe49044ebdb1ed0d680241b36f031f13e4400e28cb79c409a5287e4dffdd"

	if got := auth.SignHex(payload); got != want {
		t.Errorf("SignHex = %s, want %s", got, want)
	}

	// Same inputs must always produce the same signature.
	if got := auth.SignHex(payload); got != want {
		t.Errorf("SignHex not deterministic: got %s", got)
	}
}

func TestHMACSignHexDiffersByPayload(t *testing.T) {
	auth := &HMACAuth{Key: "k", Secret: "fundarb-test-secret"}
	a := auth.SignHex("symbol=BTCUSDT")
	b := auth.SignHex("symbol=ETHUSDT")
	if a == b {
		t.Error("distinct payloads produced identical signatures")
	}
}

func TestHMACConfigured(t *testing.T) {
	cases := []struct {
		key, secret string
		want        bool
	}{
		{"k", "s", true},
		{"", "s", false},
		{"k", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		auth := &HMACAuth{Key: c.key, Secret: c.secret}
		if got := auth.Configured(); got != c.want {
			t.Errorf("Configured(%q, %q) = %v, want %v", c.key, c.secret, got, c.want)
		}
	}
}

func TestHMACStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "supersecretkey", Secret: "supersecretvalue"}
	s := auth.String()
	if len(s) == 0 {
		t.Fatal("empty String()")
	}
	for _, leak := range []string{"supersecretkey", "supersecretvalue"} {
		if strings.Contains(s, leak) {
			t.Errorf("String() leaks credential: %s", s)
		}
	}
}
