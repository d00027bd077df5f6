package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GATEWAY_CONFIG", "")
	t.Setenv("RPC_PRIMARY_URL", "http://primary:8899")
	t.Setenv("RPC_FALLBACK_URL_1", "http://fallback:8899")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.RPC.Endpoints) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(cfg.RPC.Endpoints))
	}
	if cfg.RPC.Endpoints[0].Name != "primary" || cfg.RPC.Endpoints[1].Name != "fallback-1" {
		t.Fatalf("unexpected endpoint order: %+v", cfg.RPC.Endpoints)
	}
	if cfg.RPC.FailureThreshold != 2 || cfg.RPC.Cooldown != time.Minute {
		t.Fatalf("unexpected health defaults: %+v", cfg.RPC)
	}
	if cfg.Tiers["free"].MaxRequests == 0 {
		t.Fatal("expected free tier default")
	}
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	body := `
rpc:
  endpoints:
    - name: helius
      address: http://helius:8899
  cooldown: 30s
tiers:
  free:
    max_requests: 5
    window: 1m
queues:
  webhook:
    delays: [1m, 5m, 30m]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GATEWAY_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.RPC.Endpoints[0].Name != "helius" {
		t.Fatalf("expected helius endpoint, got %+v", cfg.RPC.Endpoints)
	}
	if cfg.RPC.Cooldown != 30*time.Second {
		t.Fatalf("expected 30s cooldown, got %s", cfg.RPC.Cooldown)
	}
	if cfg.Tiers["free"].MaxRequests != 5 {
		t.Fatalf("expected free override, got %+v", cfg.Tiers["free"])
	}
	if cfg.Tiers["pro"].MaxRequests == 0 {
		t.Fatal("expected untouched tiers to keep defaults")
	}
	if got := cfg.Queues["webhook"].Delays; len(got) != 3 || got[2] != 30*time.Minute {
		t.Fatalf("unexpected webhook delays: %v", got)
	}
}

func TestTrustedProxiesFromEnv(t *testing.T) {
	t.Setenv("GATEWAY_CONFIG", "")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.7")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.ProxyPrefixes) != 2 {
		t.Fatalf("expected 2 prefixes, got %v", cfg.ProxyPrefixes)
	}
	if cfg.ProxyPrefixes[1].String() != "192.0.2.7/32" {
		t.Fatalf("expected a single-host prefix, got %s", cfg.ProxyPrefixes[1])
	}

	t.Setenv("TRUSTED_PROXIES", "not-an-ip")
	if _, err := Load(); err == nil {
		t.Fatal("expected an invalid proxy entry to be rejected")
	}
}
