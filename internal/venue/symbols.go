package venue

import (
	"fmt"
	"strings"
)

// SymbolMapper converts between the bot's venue-agnostic token names
// ("BTC", "ETH") and a venue's native symbol format.
type SymbolMapper interface {
	ToSymbol(token string) string
	ToToken(symbol string) (string, bool)
}

// PatternMapper renders symbols from a template containing a single "%s"
// placeholder, e.g. "%sUSDT" for BTCUSDT or "PERP_%s_USDC" for
// PERP_BTC_USDC. Tokens are upper-cased on the way out.
type PatternMapper struct {
	pattern string
	prefix  string
	suffix  string
}

// NewPatternMapper builds a mapper from a pattern with exactly one "%s".
func NewPatternMapper(pattern string) (*PatternMapper, error) {
	if strings.Count(pattern, "%s") != 1 {
		return nil, fmt.Errorf("venue: symbol pattern %q must contain exactly one %%s", pattern)
	}
	i := strings.Index(pattern, "%s")
	return &PatternMapper{
		pattern: pattern,
		prefix:  pattern[:i],
		suffix:  pattern[i+2:],
	}, nil
}

// ToSymbol renders the venue symbol for token.
func (m *PatternMapper) ToSymbol(token string) string {
	return m.prefix + strings.ToUpper(token) + m.suffix
}

// ToToken extracts the token from a venue symbol, reporting whether the
// symbol matched the pattern.
func (m *PatternMapper) ToToken(symbol string) (string, bool) {
	if !strings.HasPrefix(symbol, m.prefix) || !strings.HasSuffix(symbol, m.suffix) {
		return "", false
	}
	token := symbol[len(m.prefix) : len(symbol)-len(m.suffix)]
	if token == "" {
		return "", false
	}
	return strings.ToUpper(token), true
}

var _ SymbolMapper = (*PatternMapper)(nil)
