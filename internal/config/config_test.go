package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsAndClamps(t *testing.T) {
	path := writeConfig(t, `
jobs:
    claim_limit: 100
    lease_seconds: 5
candidates:
    batch_size: 999
`)
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	cfg := m.Get()

	if cfg.Jobs.ClaimLimit != 20 {
		t.Errorf("claim_limit clamp: got %d, want 20", cfg.Jobs.ClaimLimit)
	}
	if cfg.Jobs.LeaseSeconds != 10 {
		t.Errorf("lease clamp: got %d, want 10", cfg.Jobs.LeaseSeconds)
	}
	if cfg.Candidates.BatchSize != 50 {
		t.Errorf("batch clamp: got %d, want 50", cfg.Candidates.BatchSize)
	}
	if cfg.Jobs.PollMs != 1500 {
		t.Errorf("poll default: got %d, want 1500", cfg.Jobs.PollMs)
	}
	if cfg.Monitor.PollMs != 3000 {
		t.Errorf("monitor poll default: got %d, want 3000", cfg.Monitor.PollMs)
	}
	if cfg.Oracle.CacheMaxSize != 1000 {
		t.Errorf("cache size default: got %d, want 1000", cfg.Oracle.CacheMaxSize)
	}
}

func TestURLInjection(t *testing.T) {
	path := writeConfig(t, `
rpc:
    primary_url: https://rpc.example.com
    primary_api_key_env: TEST_RAPTOR_KEY
    fallback_url: https://mainnet.helius-rpc.com
    fallback_api_key_env: TEST_RAPTOR_FALLBACK_KEY
websocket:
    url: wss://rpc.example.com
`)
	os.Setenv("TEST_RAPTOR_KEY", "key-123")
	os.Setenv("TEST_RAPTOR_FALLBACK_KEY", "helius-456")
	defer os.Unsetenv("TEST_RAPTOR_KEY")
	defer os.Unsetenv("TEST_RAPTOR_FALLBACK_KEY")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if got, want := m.PrimaryRPCURL(), "https://rpc.example.com?api_key=key-123"; got != want {
		t.Errorf("PrimaryRPCURL() = %q, want %q", got, want)
	}
	if got, want := m.FallbackRPCURL(), "https://mainnet.helius-rpc.com?api-key=helius-456"; got != want {
		t.Errorf("FallbackRPCURL() = %q, want %q", got, want)
	}
	if got, want := m.WSURL(), "wss://rpc.example.com?api_key=key-123"; got != want {
		t.Errorf("WSURL() = %q, want %q", got, want)
	}
}

func TestURLInjectionExistingParams(t *testing.T) {
	path := writeConfig(t, `
rpc:
    primary_url: https://rpc.example.com?foo=bar
    primary_api_key_env: TEST_RAPTOR_KEY_2
`)
	os.Setenv("TEST_RAPTOR_KEY_2", "key-789")
	defer os.Unsetenv("TEST_RAPTOR_KEY_2")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if got, want := m.PrimaryRPCURL(), "https://rpc.example.com?foo=bar&api_key=key-789"; got != want {
		t.Errorf("PrimaryRPCURL() = %q, want %q", got, want)
	}
}

func TestURLInjectionNoEnvKey(t *testing.T) {
	path := writeConfig(t, `
rpc:
    primary_url: https://rpc.example.com
    primary_api_key_env: TEST_RAPTOR_KEY_MISSING
`)
	os.Unsetenv("TEST_RAPTOR_KEY_MISSING")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if got, want := m.PrimaryRPCURL(), "https://rpc.example.com"; got != want {
		t.Errorf("PrimaryRPCURL() = %q, want %q", got, want)
	}
}

func TestValidatePerRole(t *testing.T) {
	path := writeConfig(t, `
rpc:
    primary_url: https://rpc.example.com
websocket:
    url: wss://rpc.example.com
store:
    dsn_env: TEST_RAPTOR_DSN
telegram:
    bot_token_env: TEST_RAPTOR_TG
keystore:
    passphrase_env: TEST_RAPTOR_PASS
`)
	os.Setenv("TEST_RAPTOR_DSN", "postgres://localhost/raptor")
	defer os.Unsetenv("TEST_RAPTOR_DSN")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	// Maintenance only needs the store.
	if err := m.Validate(RoleMaintenance); err != nil {
		t.Errorf("maintenance role should validate: %v", err)
	}

	// Notifier needs the bot token.
	if err := m.Validate(RoleNotifier); err == nil {
		t.Error("notifier role should fail without bot token")
	}
	os.Setenv("TEST_RAPTOR_TG", "123:abc")
	defer os.Unsetenv("TEST_RAPTOR_TG")
	if err := m.Validate(RoleNotifier); err != nil {
		t.Errorf("notifier role should validate: %v", err)
	}

	// Executor needs a long keystore passphrase.
	os.Setenv("TEST_RAPTOR_PASS", "short")
	defer os.Unsetenv("TEST_RAPTOR_PASS")
	if err := m.Validate(RoleExecutor); err == nil {
		t.Error("executor role should fail with short passphrase")
	}
	os.Setenv("TEST_RAPTOR_PASS", "0123456789abcdef0123456789abcdef")
	if err := m.Validate(RoleExecutor); err != nil {
		t.Errorf("executor role should validate: %v", err)
	}
}

func TestValidateProductionRejectsDevEndpoints(t *testing.T) {
	path := writeConfig(t, `
env: production
rpc:
    primary_url: https://api.devnet.solana.com
websocket:
    url: wss://rpc.example.com
store:
    dsn_env: TEST_RAPTOR_DSN_2
`)
	os.Setenv("TEST_RAPTOR_DSN_2", "postgres://db/raptor")
	defer os.Unsetenv("TEST_RAPTOR_DSN_2")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := m.Validate(RoleMonitor); err == nil {
		t.Error("production must reject devnet endpoints")
	}
}

func TestValidateRejectsPlainHTTP(t *testing.T) {
	path := writeConfig(t, `
rpc:
    primary_url: http://rpc.example.com
store:
    dsn_env: TEST_RAPTOR_DSN_3
`)
	os.Setenv("TEST_RAPTOR_DSN_3", "postgres://db/raptor")
	defer os.Unsetenv("TEST_RAPTOR_DSN_3")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if err := m.Validate(RoleExecutor); err == nil {
		t.Error("plain http RPC must be rejected")
	}
}

func TestAggregatorKeysParsing(t *testing.T) {
	path := writeConfig(t, `
router:
    aggregator_keys_env: TEST_RAPTOR_AGG
`)
	os.Setenv("TEST_RAPTOR_AGG", "k1, k2 ,,k3")
	defer os.Unsetenv("TEST_RAPTOR_AGG")

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	keys := m.AggregatorKeys()
	if len(keys) != 3 || keys[0] != "k1" || keys[1] != "k2" || keys[2] != "k3" {
		t.Errorf("unexpected keys: %v", keys)
	}
}
