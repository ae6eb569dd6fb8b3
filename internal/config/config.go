package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	SourceChain SourceChainConfig `yaml:"source_chain"`
	Protocol    ProtocolConfig    `yaml:"protocol"`
	CORS        CORSConfig        `yaml:"cors"`
	Admin       AdminConfig       `yaml:"admin"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL             string `yaml:"url"`
	Timeout         int    `yaml:"timeout"`
	ReconnectWait   int    `yaml:"reconnect_wait"`
	MaxReconnects   int    `yaml:"max_reconnects"`
	EnableJetStream bool   `yaml:"enable_jetstream"`
}

// SourceChainConfig source chain access and escrow custody configuration
type SourceChainConfig struct {
	RPCURL       string `yaml:"rpc_url"`
	ChainID      int64  `yaml:"chain_id"`
	CustodianKey string `yaml:"custodian_key"` // hex private key, env-overridable
	// EscrowMode selects the vault implementation: "book" keeps custody as
	// database book entries, "chain" moves funds through the custodian
	// account on chain.
	EscrowMode string `yaml:"escrow_mode"`
}

// ProtocolConfig protocol parameters
type ProtocolConfig struct {
	// CancelDelaySeconds is the grace period after expiry before a requester
	// may cancel. 0 means the protocol default (24h).
	CancelDelaySeconds int64 `yaml:"cancel_delay_seconds"`
	// ExpiryCheckSeconds is the expiry watcher poll interval.
	ExpiryCheckSeconds int `yaml:"expiry_check_seconds"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// AdminConfig admin API access configuration
type AdminConfig struct {
	Username        string `yaml:"username"`
	PasswordBcrypt  string `yaml:"password_bcrypt"` // bcrypt hash of the admin password
	TOTPSecret      string `yaml:"totp_secret"`
	JWTSecret       string `yaml:"jwt_secret"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
}

var AppConfig *Config

// LoadConfig loads the configuration file, preferring config.local.yaml when
// present, then applies environment overrides.
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("🔧 Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	fmt.Printf("✅ [%s] Loaded configuration from %s\n", time.Now().Format("2006-01-02 15:04:05"), configPath)

	overrideFromEnv(&config)
	applyDefaults(&config)

	AppConfig = &config
	return nil
}

func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
		log.Printf("🔧 Database DSN overridden from environment")
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if rpcURL := os.Getenv("SOURCE_CHAIN_RPC_URL"); rpcURL != "" {
		config.SourceChain.RPCURL = rpcURL
	}
	if key := os.Getenv("CUSTODIAN_PRIVATE_KEY"); key != "" {
		config.SourceChain.CustodianKey = key
		log.Printf("🔧 Custodian key loaded from environment")
	}
	if delay := os.Getenv("CANCEL_DELAY_SECONDS"); delay != "" {
		if d, err := strconv.ParseInt(delay, 10, 64); err == nil {
			config.Protocol.CancelDelaySeconds = d
		}
	}
	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		config.Admin.JWTSecret = secret
	}
	if secret := os.Getenv("ADMIN_TOTP_SECRET"); secret != "" {
		config.Admin.TOTPSecret = secret
	}
}

func applyDefaults(config *Config) {
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Database.Driver == "" {
		config.Database.Driver = "postgres"
	}
	if config.SourceChain.EscrowMode == "" {
		config.SourceChain.EscrowMode = "book"
	}
	if config.Protocol.ExpiryCheckSeconds == 0 {
		config.Protocol.ExpiryCheckSeconds = 60
	}
	if config.Admin.TokenTTLMinutes == 0 {
		config.Admin.TokenTTLMinutes = 60
	}
}

// CancelDelay returns the configured grace period, 0 when unset so callers
// can fall back to the protocol default.
func (c *Config) CancelDelay() time.Duration {
	return time.Duration(c.Protocol.CancelDelaySeconds) * time.Second
}
