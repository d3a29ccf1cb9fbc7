package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yourorg/live-signals/internal/model"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaultsAndOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: "9090"
poller:
  batchSize: 10
providers:
  routes:
    stock: finnhub
    crypto: binance
`)
	t.Setenv("PROVIDERS_FINNHUB_APIKEY", "secret")
	t.Setenv("CACHE_QUOTETTL", "7s")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Poller.BatchSize != 10 {
		t.Fatalf("file values not applied: %+v", cfg.Server)
	}
	if cfg.Poller.PollInterval != 2*time.Second || cfg.Poller.HistoryLimit != 100 {
		t.Fatalf("defaults not applied: %+v", cfg.Poller)
	}
	if cfg.Providers.RetryAttempts != 3 || cfg.Providers.RetryDelay != 500*time.Millisecond {
		t.Fatalf("retry defaults not applied: %+v", cfg.Providers)
	}
	if cfg.Providers.Finnhub.APIKey != "secret" {
		t.Fatalf("env override not applied, got %q", cfg.Providers.Finnhub.APIKey)
	}
	if cfg.Cache.QuoteTTL != 7*time.Second {
		t.Fatalf("env duration override not applied, got %v", cfg.Cache.QuoteTTL)
	}
	if cfg.Providers.Routes["stock"] != "finnhub" {
		t.Fatalf("unexpected routes %v", cfg.Providers.Routes)
	}
	if len(cfg.Poller.Timeframes) != 7 || cfg.Poller.Timeframes[0] != "5m" {
		t.Fatalf("unexpected timeframes %v", cfg.Poller.Timeframes)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"batch size": "poller:\n  batchSize: 0\n",
		"route key":  "providers:\n  routes:\n    forex: finnhub\n",
		"redis cache without redis": "cache:\n  backend: redis\n",
		"kafka without brokers":     "kafka:\n  enabled: true\n  brokers: []\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, "config.yaml", body))
			if err == nil || !strings.Contains(err.Error(), "invalid config") {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestParseSymbols(t *testing.T) {
	specs, err := ParseSymbols([]byte(`
symbols:
  - symbol: NSE:NIFTY50
    type: index
  - symbol: INFY
    type: equity
  - symbol: BTCUSDT
    type: crypto
  - symbol: INFY
    type: stock
`))
	if err != nil {
		t.Fatalf("ParseSymbols: %v", err)
	}
	want := []model.SymbolSpec{
		{Symbol: "NSE:NIFTY50", Class: model.ClassIndex},
		{Symbol: "INFY", Class: model.ClassStock},
		{Symbol: "BTCUSDT", Class: model.ClassCrypto},
	}
	if len(specs) != len(want) {
		t.Fatalf("got %v, want %v", specs, want)
	}
	for i := range want {
		if specs[i] != want[i] {
			t.Fatalf("specs[%d] = %+v, want %+v", i, specs[i], want[i])
		}
	}

	if _, err := ParseSymbols([]byte("symbols:\n  - symbol: X\n    type: forex\n")); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
