package venue

import "testing"

func TestPatternMapper(t *testing.T) {
	cases := []struct {
		pattern string
		token   string
		symbol  string
	}{
		{"%sUSDT", "BTC", "BTCUSDT"},
		{"PERP_%s_USDC", "BTC", "PERP_BTC_USDC"},
		{"%s-PERP", "ETH", "ETH-PERP"},
		{"%sUSD", "SOL", "SOLUSD"},
	}
	for _, c := range cases {
		m, err := NewPatternMapper(c.pattern)
		if err != nil {
			t.Fatalf("NewPatternMapper(%q): %v", c.pattern, err)
		}
		if got := m.ToSymbol(c.token); got != c.symbol {
			t.Errorf("%q.ToSymbol(%s) = %s, want %s", c.pattern, c.token, got, c.symbol)
		}
		tok, ok := m.ToToken(c.symbol)
		if !ok || tok != c.token {
			t.Errorf("%q.ToToken(%s) = %s/%v, want %s", c.pattern, c.symbol, tok, ok, c.token)
		}
	}
}

func TestPatternMapperLowercaseToken(t *testing.T) {
	m, err := NewPatternMapper("%sUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if got := m.ToSymbol("btc"); got != "BTCUSDT" {
		t.Errorf("ToSymbol(btc) = %s", got)
	}
}

func TestPatternMapperNoMatch(t *testing.T) {
	m, err := NewPatternMapper("PERP_%s_USDC")
	if err != nil {
		t.Fatal(err)
	}
	for _, sym := range []string{"BTCUSDT", "PERP__USDC", "PERP_BTC"} {
		if tok, ok := m.ToToken(sym); ok {
			t.Errorf("ToToken(%s) matched as %s, want no match", sym, tok)
		}
	}
}

func TestPatternMapperRejectsBadPattern(t *testing.T) {
	for _, p := range []string{"BTCUSDT", "%s_%s"} {
		if _, err := NewPatternMapper(p); err == nil {
			t.Errorf("NewPatternMapper(%q) succeeded, want error", p)
		}
	}
}
