package domain

import "testing"

var instrumentCorpus = []struct {
	id    string
	base  string
	quote string
}{
	{"BTCUSDT", "BTC", "USDT"},
	{"btcusdt", "BTC", "USDT"},
	{"ETHBTC", "ETH", "BTC"},
	{"BNBFDUSD", "BNB", "FDUSD"},
	{"SOLUSDC", "SOL", "USDC"},
	{"1000PEPEUSDT", "1000PEPE", "USDT"},
	{"STETHUSDT", "STETH", "USDT"},
	{"WBTCBTC", "WBTC", "BTC"},
	{"USDCUSDT", "USDC", "USDT"},
	{"FDUSDUSDT", "FDUSD", "USDT"},
	{"BTC-USDT", "BTC", "USDT"},
	{"BTC/USD", "BTC", "USD"},
	{"eth_usdt", "ETH", "USDT"},
	{"KRW-BTC", "BTC", "KRW"},
	{"BTC-ETH", "ETH", "BTC"},
	{"ETH-BTC", "ETH", "BTC"},
	{"BTCUSDT_PERP", "BTC", "USDT"},
	{"BTC-USDT-SWAP", "BTC", "USDT"},
	{"XXBTZUSD", "BTC", "USD"},
	{"XETHZEUR", "ETH", "EUR"},
	{"XXRPZUSD", "XRP", "USD"},
	{"XBT/USD", "BTC", "USD"},
	{"XDG", "DOGE", ""},
	{"ZETAUSDT", "ZETA", "USDT"},
	{"BTC", "BTC", ""},
	{"USDT", "USDT", ""},
	{"AUDIOUSDT", "AUDIO", "USDT"},
	{"XETHXXBT", "ETH", "BTC"},
	{"ZRXETH", "ZRX", "ETH"},
	{"TRXETH", "TRX", "ETH"},
	{"SNXETH", "SNX", "ETH"},
	{"XTZUSD", "XTZ", "USD"},
	{"XTZEUR", "XTZ", "EUR"},
}

func TestSplitInstrument(t *testing.T) {
	for _, tt := range instrumentCorpus {
		t.Run(tt.id, func(t *testing.T) {
			base, quote := SplitInstrument(tt.id)
			if base != tt.base || quote != tt.quote {
				t.Errorf("SplitInstrument(%q) = (%q, %q), want (%q, %q)", tt.id, base, quote, tt.base, tt.quote)
			}
		})
	}
}

func TestNormalizeSymbol_Idempotent(t *testing.T) {
	for _, tt := range instrumentCorpus {
		once := NormalizeSymbol(tt.id)
		twice := NormalizeSymbol(once)
		if once != twice {
			t.Errorf("NormalizeSymbol not idempotent for %q: %q -> %q", tt.id, once, twice)
		}
	}
}

func TestNormalizeSymbol_Empty(t *testing.T) {
	if got := NormalizeSymbol("  "); got != "" {
		t.Errorf("Expected empty symbol, got %q", got)
	}
	if got := NormalizeSymbol("--"); got != "" {
		t.Errorf("Expected empty symbol for separators only, got %q", got)
	}
}
