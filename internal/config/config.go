package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Chain      ChainConfig      `yaml:"chain"`
	Purchase   PurchaseConfig   `yaml:"purchase"`
	Settlement SettlementConfig `yaml:"settlement"`
	Dedupe     DedupeConfig     `yaml:"dedupe"`
	Stores     StoresConfig     `yaml:"stores"`
	PubSub     PubSubConfig     `yaml:"pubsub"`
	Security   SecurityConfig   `yaml:"security"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	API        APIConfig        `yaml:"api"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type AppConfig struct {
	InstanceID      string        `yaml:"instance_id"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type ChainConfig struct {
	NodeURL        string          `yaml:"node_url"`
	ChainID        uint64          `yaml:"chain_id"` // expected network, probed at startup and per purchase
	OperatorKey    string          `yaml:"operator_key"`
	ConfirmPoll    time.Duration   `yaml:"confirm_poll"`
	ConfirmTimeout time.Duration   `yaml:"confirm_timeout"`
	Contracts      ContractsConfig `yaml:"contracts"`
}

type ContractsConfig struct {
	Sale    string `yaml:"sale"`
	Token   string `yaml:"token"`
	Staking string `yaml:"staking"`
	Admins  string `yaml:"admins"`
	USDT    string `yaml:"usdt"`
	USDC    string `yaml:"usdc"`
}

type PurchaseConfig struct {
	MinUSD       string        `yaml:"min_usd"`
	MaxUSD       string        `yaml:"max_usd"`
	ApproveDelay time.Duration `yaml:"approve_delay"` // pause before the approve submission
	TokenSymbol  string        `yaml:"token_symbol"`
}

type SettlementConfig struct {
	OutboxInterval    time.Duration `yaml:"outbox_interval"`
	OutboxBaseBackoff time.Duration `yaml:"outbox_base_backoff"`
	OutboxMaxAttempts int           `yaml:"outbox_max_attempts"`
}

type DedupeConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	Prefix string        `yaml:"prefix"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type ClickHouseWriterConfig struct {
	BatchMaxRows     int           `yaml:"batch_max_rows"`
	BatchMaxInterval time.Duration `yaml:"batch_max_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
}

type ClickHouseConfig struct {
	DSN    string                 `yaml:"dsn"`
	Writer ClickHouseWriterConfig `yaml:"writer"`
}

type StoresConfig struct {
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type PubSubConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

type JWTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	PublicKeyPath  string        `yaml:"public_key_path"`
	PrivateKeyPath string        `yaml:"private_key_path"` // dev signer only
	Audience       string        `yaml:"audience"`
	Issuer         string        `yaml:"issuer"`
	Leeway         time.Duration `yaml:"leeway"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

type RateBucket struct {
	RefillPerSec int           `yaml:"refill_per_sec"`
	Burst        int           `yaml:"burst"`
	TTL          time.Duration `yaml:"ttl"`
}

type RateLimitConfig struct {
	ByJWT RateBucket `yaml:"by_jwt"`
	ByIP  RateBucket `yaml:"by_ip"`
}

type CORSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
	Headers []string `yaml:"headers"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	CORS         CORSConfig    `yaml:"cors"`
}

type APIConfig struct {
	HTTP HTTPConfig `yaml:"http"`
}

type PyroscopeConfig struct {
	Enabled    bool              `yaml:"enabled"`
	AppName    string            `yaml:"app_name"`
	ServerAddr string            `yaml:"server_addr"`
	AuthToken  string            `yaml:"auth_token"`
	Tags       map[string]string `yaml:"tags"`
}

type MetricsConfig struct {
	Pyroscope PyroscopeConfig `yaml:"pyroscope"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// secrets like the operator key come from the environment
	expanded := os.ExpandEnv(string(b))

	var cfg Config
	if err = yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
