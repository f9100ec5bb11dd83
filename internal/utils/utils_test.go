package utils

import (
	"strings"
	"testing"
)

func TestSanitizeString(t *testing.T) {
	in := `GET /fapi/v1/order?symbol=BTCUSDT&signature=abcdef0123456789abcdef failed`
	out := SanitizeString(in)
	if strings.Contains(out, "abcdef0123456789abcdef") {
		t.Errorf("signature not masked: %s", out)
	}
	if !strings.Contains(out, "signature=***") {
		t.Errorf("unexpected output: %s", out)
	}
	if SanitizeString("") != "" {
		t.Error("empty input should stay empty")
	}
}

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"btc/usdt":  "BTCUSDT",
		" eth-usdt": "ETHUSDT",
		"SOL_USDT":  "SOLUSDT",
	}
	for in, want := range cases {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("0123456789abc", 10); !strings.HasPrefix(got, "0123456789") || len(got) <= 10 {
		t.Errorf("got %q", got)
	}
}

func TestGenerateToken(t *testing.T) {
	a, b := GenerateToken(16), GenerateToken(16)
	if a == "" || a == b {
		t.Errorf("tokens should be non-empty and distinct: %q %q", a, b)
	}
}
