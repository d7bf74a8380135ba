package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ServerAddr     string   `toml:"server_addr"`
	DatabaseDSN    string   `toml:"database_dsn"`
	RedisAddr      string   `toml:"redis_addr"`
	RedisPassword  string   `toml:"redis_password"`
	KafkaAddr      string   `toml:"kafka_addr"`
	KafkaTopic     string   `toml:"kafka_topic"`
	SigningKey     string   `toml:"signing_key"`
	AllowedOrigins []string `toml:"allowed_origins"`

	// HeartbeatInterval is how long a connection may go without a
	// heartbeat before the registry force-removes it.
	HeartbeatInterval time.Duration `toml:"heartbeat_interval"`
	// PresenceTTL is the expiry on presence entries; an unrefreshed
	// entry reverts to offline.
	PresenceTTL time.Duration `toml:"presence_ttl"`
	// OfflineGrace is how long after a user's last connection drops
	// before they are marked offline, tolerating reconnect flaps.
	OfflineGrace time.Duration `toml:"offline_grace"`

	MaxContentBytes    int `toml:"max_content_bytes"`
	MaxAttachmentBytes int `toml:"max_attachment_bytes"`

	Log LogConfig `toml:"log"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Dev        bool   `toml:"dev"`
}

const (
	defaultHeartbeatInterval  = 30 * time.Second
	defaultPresenceTTL        = 60 * time.Second
	defaultOfflineGrace       = 30 * time.Second
	defaultMaxContentBytes    = 4096
	defaultMaxAttachmentBytes = 25 << 20
)

// NewConfig builds a Config from an optional TOML file, then applies any
// non-empty flag overrides and validates the result.
func NewConfig(path, serverAddr, databaseDSN, signingKey string) (*Config, error) {
	cfg := &Config{
		HeartbeatInterval:  defaultHeartbeatInterval,
		PresenceTTL:        defaultPresenceTTL,
		OfflineGrace:       defaultOfflineGrace,
		MaxContentBytes:    defaultMaxContentBytes,
		MaxAttachmentBytes: defaultMaxAttachmentBytes,
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config file: %w", err)
		}
	}

	if serverAddr != "" {
		cfg.ServerAddr = serverAddr
	}
	if databaseDSN != "" {
		cfg.DatabaseDSN = databaseDSN
	}
	if signingKey != "" {
		cfg.SigningKey = signingKey
	}

	if cfg.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("signing key cannot be empty")
	}
	if cfg.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("heartbeat interval must be positive")
	}
	if cfg.PresenceTTL <= 0 {
		return nil, fmt.Errorf("presence TTL must be positive")
	}

	return cfg, nil
}
