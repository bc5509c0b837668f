package domain

import (
	"sort"
	"strings"
)

// quoteRank orders known quote currencies. When both halves of a separated
// instrument id are quote currencies, the lower rank is the quote side
// (e.g., "KRW-BTC" -> BTC quoted in KRW, "BTC-ETH" -> ETH quoted in BTC).
var quoteRank = map[string]int{
	// Fiat & stablecoins
	"USDT": 0, "USDC": 0, "FDUSD": 0, "BUSD": 0, "TUSD": 0, "DAI": 0,
	"USD": 0, "EUR": 0, "GBP": 0, "TRY": 0, "KRW": 0, "JPY": 0, "BRL": 0, "AUD": 0,
	// Crypto settlement currencies
	"BTC": 1,
	"ETH": 2,
	"BNB": 3,
}

// krakenQuotes are class-marked quote codes. A base stripped from one of
// these also carries a leading class marker (e.g., "XETHZUSD").
var krakenQuotes = map[string]string{
	"ZUSD": "USD", "ZEUR": "EUR", "ZGBP": "GBP", "ZJPY": "JPY", "ZCAD": "CAD",
	"XXBT": "BTC", "XETH": "ETH",
}

var symbolAliases = map[string]string{
	"XBT":  "BTC",
	"XXBT": "BTC",
	"XDG":  "DOGE",
	"XXDG": "DOGE",
	"BCC":  "BCH",
	// Kraken legacy asset codes
	"XETH": "ETH",
	"XLTC": "LTC",
	"XXRP": "XRP",
	"XXLM": "XLM",
	"XXMR": "XMR",
	"XZEC": "ZEC",
	"XETC": "ETC",
}

// Assets whose names end in a quote code and must never be split.
var protectedBases = map[string]bool{
	"WBTC": true, "TBTC": true, "STETH": true, "WSTETH": true, "WBETH": true, "CBETH": true, "BETH": true,
}

const minBaseLen = 2

// quoteSuffixes holds every strippable suffix, longest first.
var quoteSuffixes = func() []string {
	out := make([]string, 0, len(quoteRank)+len(krakenQuotes))
	for q := range quoteRank {
		out = append(out, q)
	}
	for q := range krakenQuotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}()

// NormalizeSymbol maps an exchange instrument id to its canonical base asset.
// "BTCUSDT", "btcusdt", "BTC-USDT", "KRW-BTC", "XXBTZUSD" all yield "BTC".
// The result is a fixed point: NormalizeSymbol(NormalizeSymbol(x)) == NormalizeSymbol(x).
func NormalizeSymbol(instrumentID string) string {
	base, _ := SplitInstrument(instrumentID)
	return base
}

// SplitInstrument returns the canonical base asset and the quote currency of an
// instrument id. quote is empty when none could be identified.
func SplitInstrument(instrumentID string) (base, quote string) {
	s := strings.ToUpper(strings.TrimSpace(instrumentID))
	if s == "" {
		return "", ""
	}

	parts := strings.FieldsFunc(s, isSeparator)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) >= 2 {
		left, right := parts[0], parts[1]
		lRank, lQuote := quoteRank[left]
		rRank, rQuote := quoteRank[right]
		switch {
		case lQuote && rQuote && lRank < rRank:
			return canonicalBase(right), left
		case rQuote:
			return canonicalBase(left), right
		case lQuote:
			return canonicalBase(right), left
		}
		// Contract suffixes like "BTCUSDT_PERP": fall through with the first part.
	}

	base = parts[0]
	for {
		next, q := stripOnce(base)
		if next == base {
			break
		}
		if quote == "" && q != "" {
			quote = q
		}
		base = next
	}
	return base, quote
}

// canonicalBase reduces an already-separated base to its fixed point.
func canonicalBase(s string) string {
	for {
		next, _ := stripOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

// stripOnce applies a single normalization step.
func stripOnce(s string) (string, string) {
	if alias, ok := symbolAliases[s]; ok {
		return alias, ""
	}
	if _, isQuote := quoteRank[s]; isQuote || protectedBases[s] {
		return s, ""
	}

	for _, suffix := range quoteSuffixes {
		if !strings.HasSuffix(s, suffix) || len(s)-len(suffix) < minBaseLen {
			continue
		}
		base := s[:len(s)-len(suffix)]
		if plain, ok := krakenQuotes[suffix]; ok {
			// "ZRXETH" is ZRX/ETH, not ZR quoted in XETH.
			if !isClassMarked(base) {
				continue
			}
			return stripClassMarker(base), plain
		}
		return base, suffix
	}
	return s, ""
}

// stripClassMarker removes a single leading X/Z class marker when the
// remainder is a plausible asset code (three or four letters).
func stripClassMarker(s string) string {
	if alias, ok := symbolAliases[s]; ok {
		return alias
	}
	if len(s) < 4 || len(s) > 5 || (s[0] != 'X' && s[0] != 'Z') {
		return s
	}
	return s[1:]
}

// isClassMarked reports whether s looks like a Kraken asset code ("XXBT", "XETH").
func isClassMarked(s string) bool {
	if _, ok := symbolAliases[s]; ok {
		return true
	}
	return len(s) == 4 && (s[0] == 'X' || s[0] == 'Z')
}

func isSeparator(r rune) bool {
	return r == '-' || r == '/' || r == '_' || r == ':'
}
