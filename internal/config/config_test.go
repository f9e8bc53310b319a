package config

import "testing"

func TestLoad(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TAX_RATE_A", "0.07")
	t.Setenv("TAX_RATE_B", "0.08")
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "60")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Address() != ":9090" {
		t.Fatalf("address: want :9090 got %s", cfg.Address())
	}
	if cfg.ReportCacheTTLSeconds != 60 {
		t.Fatalf("report ttl: want 60 got %d", cfg.ReportCacheTTLSeconds)
	}
	rateA, rateB, err := cfg.TaxRates()
	if err != nil {
		t.Fatalf("tax rates failed: %v", err)
	}
	if rateA.String() != "0.07" || rateB.String() != "0.08" {
		t.Fatalf("rates: got %s %s", rateA, rateB)
	}
}

func TestLoadRejectsBadTaxRate(t *testing.T) {
	t.Setenv("TAX_RATE_A", "five percent")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for invalid TAX_RATE_A")
	}
	t.Setenv("TAX_RATE_A", "-0.05")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for negative TAX_RATE_A")
	}
}
