package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all worker configuration. Secrets stay in the environment;
// the YAML file names the env vars that carry them.
type Config struct {
	Env         string            `mapstructure:"env"` // dev|production
	Store       StoreConfig       `mapstructure:"store"`
	RPC         RPCConfig         `mapstructure:"rpc"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Router      RouterConfig      `mapstructure:"router"`
	Oracle      OracleConfig      `mapstructure:"oracle"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Keystore    KeystoreConfig    `mapstructure:"keystore"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	Candidates  CandidatesConfig  `mapstructure:"candidates"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Notifier    NotifierConfig    `mapstructure:"notifier"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Features    FeaturesConfig    `mapstructure:"features"`
}

type StoreConfig struct {
	DSNEnv string `mapstructure:"dsn_env"`
}

type RPCConfig struct {
	PrimaryURL        string `mapstructure:"primary_url"`
	PrimaryAPIKeyEnv  string `mapstructure:"primary_api_key_env"`
	FallbackURL       string `mapstructure:"fallback_url"`
	FallbackAPIKeyEnv string `mapstructure:"fallback_api_key_env"`
}

type WebSocketConfig struct {
	URL string `mapstructure:"url"`
}

type RouterConfig struct {
	AggregatorURL       string `mapstructure:"aggregator_url"`
	AggregatorKeysEnv   string `mapstructure:"aggregator_keys_env"` // comma-separated keys
	CurveTradeURL       string `mapstructure:"curve_trade_url"`
	MaxPriorityLamports uint64 `mapstructure:"max_priority_lamports"`
	ConfirmTimeoutSec   int    `mapstructure:"confirm_timeout_seconds"`
}

type OracleConfig struct {
	BaseURL      string  `mapstructure:"base_url"`
	APIKeyEnv    string  `mapstructure:"api_key_env"`
	RatePerSec   float64 `mapstructure:"rate_per_sec"`
	BurstLimit   float64 `mapstructure:"burst_limit"`
	CacheTTLSec  int     `mapstructure:"cache_ttl_seconds"`
	CacheMaxSize int     `mapstructure:"cache_max_size"`
}

type TelegramConfig struct {
	BotTokenEnv string `mapstructure:"bot_token_env"`
}

type KeystoreConfig struct {
	PassphraseEnv string `mapstructure:"passphrase_env"`
}

type JobsConfig struct {
	PollMs       int `mapstructure:"poll_ms"`
	ClaimLimit   int `mapstructure:"claim_limit"`
	LeaseSeconds int `mapstructure:"lease_seconds"`
}

type CandidatesConfig struct {
	PollSeconds   int `mapstructure:"poll_seconds"`
	BatchSize     int `mapstructure:"batch_size"`
	MaxAgeSeconds int `mapstructure:"max_age_seconds"`
}

type MonitorConfig struct {
	PollMs             int `mapstructure:"poll_ms"`
	WatchRefreshCycles int `mapstructure:"watch_refresh_cycles"`
	ExitQueueSize      int `mapstructure:"exit_queue_size"`
	ExitWorkers        int `mapstructure:"exit_workers"`
}

type NotifierConfig struct {
	PollMs     int `mapstructure:"poll_ms"`
	ClaimLimit int `mapstructure:"claim_limit"`
}

type MaintenanceConfig struct {
	IntervalSeconds         int `mapstructure:"interval_seconds"`
	StaleExecAgeSeconds     int `mapstructure:"stale_exec_age_seconds"`
	FailedTriggerAgeSeconds int `mapstructure:"failed_trigger_age_seconds"`
}

type IngestConfig struct {
	ListenHost     string `mapstructure:"listen_host"`
	ListenPort     int    `mapstructure:"listen_port"`
	BearerTokenEnv string `mapstructure:"bearer_token_env"`
}

type AuditConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

type FeaturesConfig struct {
	AutoExecute       bool `mapstructure:"auto_execute"`
	PositionMonitor   bool `mapstructure:"position_monitor"`
	CandidateConsumer bool `mapstructure:"candidate_consumer"`
	GraduationMonitor bool `mapstructure:"graduation_monitor"`
	SourceAdapters    bool `mapstructure:"source_adapters"`
}

// Manager handles config loading and hot-reload.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
}

// NewManager loads the config file, applies defaults and clamps, and watches
// the file for changes.
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.clamp()

	m := &Manager{
		config: &cfg,
		viper:  v,
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("store.dsn_env", "RAPTOR_STORE_DSN")
	v.SetDefault("rpc.primary_api_key_env", "RAPTOR_RPC_API_KEY")
	v.SetDefault("rpc.fallback_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("rpc.fallback_api_key_env", "RAPTOR_RPC_FALLBACK_API_KEY")
	v.SetDefault("router.aggregator_url", "https://quote-api.jup.ag/v6")
	v.SetDefault("router.aggregator_keys_env", "RAPTOR_AGG_API_KEYS")
	v.SetDefault("router.max_priority_lamports", 1250000)
	v.SetDefault("router.confirm_timeout_seconds", 30)
	v.SetDefault("oracle.api_key_env", "RAPTOR_ORACLE_API_KEY")
	v.SetDefault("oracle.rate_per_sec", 10)
	v.SetDefault("oracle.burst_limit", 30)
	v.SetDefault("oracle.cache_ttl_seconds", 10)
	v.SetDefault("oracle.cache_max_size", 1000)
	v.SetDefault("telegram.bot_token_env", "RAPTOR_TELEGRAM_TOKEN")
	v.SetDefault("keystore.passphrase_env", "RAPTOR_KEYSTORE_PASSPHRASE")
	v.SetDefault("jobs.poll_ms", 1500)
	v.SetDefault("jobs.claim_limit", 5)
	v.SetDefault("jobs.lease_seconds", 30)
	v.SetDefault("candidates.poll_seconds", 2)
	v.SetDefault("candidates.batch_size", 10)
	v.SetDefault("candidates.max_age_seconds", 120)
	v.SetDefault("monitor.poll_ms", 3000)
	v.SetDefault("monitor.watch_refresh_cycles", 10)
	v.SetDefault("monitor.exit_queue_size", 64)
	v.SetDefault("monitor.exit_workers", 4)
	v.SetDefault("notifier.poll_ms", 1500)
	v.SetDefault("notifier.claim_limit", 10)
	v.SetDefault("maintenance.interval_seconds", 60)
	v.SetDefault("maintenance.stale_exec_age_seconds", 300)
	v.SetDefault("maintenance.failed_trigger_age_seconds", 600)
	v.SetDefault("ingest.listen_host", "127.0.0.1")
	v.SetDefault("ingest.listen_port", 8085)
	v.SetDefault("ingest.bearer_token_env", "RAPTOR_INGEST_TOKEN")
	v.SetDefault("audit.sqlite_path", "./data/audit.db")
	v.SetDefault("features.auto_execute", true)
	v.SetDefault("features.position_monitor", true)
	v.SetDefault("features.candidate_consumer", true)
	v.SetDefault("features.graduation_monitor", true)
	v.SetDefault("features.source_adapters", true)
}

// clamp forces tunables into their supported ranges.
func (c *Config) clamp() {
	c.Jobs.ClaimLimit = clampInt(c.Jobs.ClaimLimit, 1, 20, 5)
	c.Jobs.LeaseSeconds = clampInt(c.Jobs.LeaseSeconds, 10, 120, 30)
	c.Jobs.PollMs = clampInt(c.Jobs.PollMs, 200, 60000, 1500)
	c.Candidates.PollSeconds = clampInt(c.Candidates.PollSeconds, 1, 10, 2)
	c.Candidates.BatchSize = clampInt(c.Candidates.BatchSize, 1, 50, 10)
	c.Candidates.MaxAgeSeconds = clampInt(c.Candidates.MaxAgeSeconds, 30, 600, 120)
	c.Monitor.PollMs = clampInt(c.Monitor.PollMs, 500, 30000, 3000)
	c.Monitor.WatchRefreshCycles = clampInt(c.Monitor.WatchRefreshCycles, 1, 100, 10)
	c.Monitor.ExitQueueSize = clampInt(c.Monitor.ExitQueueSize, 8, 1024, 64)
	c.Monitor.ExitWorkers = clampInt(c.Monitor.ExitWorkers, 1, 32, 4)
	c.Notifier.PollMs = clampInt(c.Notifier.PollMs, 200, 60000, 1500)
	c.Notifier.ClaimLimit = clampInt(c.Notifier.ClaimLimit, 1, 50, 10)
	c.Maintenance.IntervalSeconds = clampInt(c.Maintenance.IntervalSeconds, 10, 3600, 60)
	c.Maintenance.StaleExecAgeSeconds = clampInt(c.Maintenance.StaleExecAgeSeconds, 60, 3600, 300)
	c.Maintenance.FailedTriggerAgeSeconds = clampInt(c.Maintenance.FailedTriggerAgeSeconds, 60, 86400, 600)
	if c.Router.ConfirmTimeoutSec <= 0 {
		c.Router.ConfirmTimeoutSec = 30
	}
}

func clampInt(v, min, max, def int) int {
	if v == 0 {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Roles a process can run.
const (
	RoleAll         = "all"
	RoleExecutor    = "executor"
	RoleMonitor     = "monitor"
	RoleNotifier    = "notifier"
	RoleConsumer    = "consumer"
	RoleMaintenance = "maintenance"
)

// Validate checks the config for one role. Production additionally rejects
// plaintext endpoints and known dev/test hosts.
func (m *Manager) Validate(role string) error {
	cfg := m.Get()

	if os.Getenv(cfg.Store.DSNEnv) == "" {
		return fmt.Errorf("config: store DSN env %s is empty", cfg.Store.DSNEnv)
	}

	needsRPC := role == RoleAll || role == RoleExecutor || role == RoleMonitor
	needsWS := role == RoleAll || role == RoleMonitor
	needsTelegram := role == RoleAll || role == RoleNotifier
	needsKeystore := role == RoleAll || role == RoleExecutor

	if needsRPC {
		if cfg.RPC.PrimaryURL == "" {
			return fmt.Errorf("config: rpc.primary_url required for role %s", role)
		}
		if !strings.HasPrefix(cfg.RPC.PrimaryURL, "https://") {
			return fmt.Errorf("config: rpc.primary_url must be https://")
		}
	}
	if needsWS {
		if cfg.WebSocket.URL == "" {
			return fmt.Errorf("config: websocket.url required for role %s", role)
		}
		if !strings.HasPrefix(cfg.WebSocket.URL, "wss://") {
			return fmt.Errorf("config: websocket.url must be wss://")
		}
	}
	if needsTelegram && os.Getenv(cfg.Telegram.BotTokenEnv) == "" {
		return fmt.Errorf("config: telegram token env %s is empty", cfg.Telegram.BotTokenEnv)
	}
	if needsKeystore {
		pass := os.Getenv(cfg.Keystore.PassphraseEnv)
		if len(pass) < 32 {
			return fmt.Errorf("config: keystore passphrase env %s must be at least 32 chars", cfg.Keystore.PassphraseEnv)
		}
	}

	if cfg.Env == "production" {
		for _, url := range []string{cfg.RPC.PrimaryURL, cfg.RPC.FallbackURL, cfg.WebSocket.URL} {
			if url == "" {
				continue
			}
			if isDevEndpoint(url) {
				return fmt.Errorf("config: dev/test endpoint %q not allowed in production", url)
			}
		}
	}
	return nil
}

func isDevEndpoint(url string) bool {
	lower := strings.ToLower(url)
	for _, marker := range []string{"localhost", "127.0.0.1", "devnet", "testnet"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Get returns the current config (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetOnChange registers a callback for config changes.
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Manager) reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config on reload")
		return
	}
	cfg.clamp()

	m.config = &cfg
	if m.onChange != nil {
		m.onChange(&cfg)
	}
}

// StoreDSN loads the store connection string from the environment.
func (m *Manager) StoreDSN() string {
	return os.Getenv(m.Get().Store.DSNEnv)
}

// TelegramToken loads the bot token from the environment.
func (m *Manager) TelegramToken() string {
	return os.Getenv(m.Get().Telegram.BotTokenEnv)
}

// KeystorePassphrase loads the wallet encryption passphrase.
func (m *Manager) KeystorePassphrase() string {
	return os.Getenv(m.Get().Keystore.PassphraseEnv)
}

// AggregatorKeys loads the comma-separated aggregator API keys.
func (m *Manager) AggregatorKeys() []string {
	raw := os.Getenv(m.Get().Router.AggregatorKeysEnv)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

// PrimaryRPCURL returns the RPC URL with its API key injected.
func (m *Manager) PrimaryRPCURL() string {
	cfg := m.Get()
	return injectKey(cfg.RPC.PrimaryURL, os.Getenv(cfg.RPC.PrimaryAPIKeyEnv))
}

// FallbackRPCURL returns the fallback RPC URL with its API key injected.
func (m *Manager) FallbackRPCURL() string {
	cfg := m.Get()
	return injectKey(cfg.RPC.FallbackURL, os.Getenv(cfg.RPC.FallbackAPIKeyEnv))
}

// WSURL returns the websocket URL with the primary API key injected.
func (m *Manager) WSURL() string {
	cfg := m.Get()
	return injectKey(cfg.WebSocket.URL, os.Getenv(cfg.RPC.PrimaryAPIKeyEnv))
}

// injectKey appends the provider API key query parameter. Helius spells the
// parameter with a dash.
func injectKey(url, key string) string {
	if key == "" || url == "" {
		return url
	}
	param := "api_key"
	if strings.Contains(url, "helius") {
		param = "api-key"
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + param + "=" + key
}

// JobPoll returns the job poll interval.
func (m *Manager) JobPoll() time.Duration {
	return time.Duration(m.Get().Jobs.PollMs) * time.Millisecond
}

// MonitorPoll returns the position monitor poll interval.
func (m *Manager) MonitorPoll() time.Duration {
	return time.Duration(m.Get().Monitor.PollMs) * time.Millisecond
}
