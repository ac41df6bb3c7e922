package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxBodyBytes      int64
	AllowOrigins      []string
}

type GRPCConfig struct {
	Addr    string
	Enabled bool
}

type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SessionConfig struct {
	TTL             time.Duration
	TokenBytes      int
	CleanupSchedule string
	// Backend is "store" (the credential store) or "redis".
	Backend string
}

type IdentityConfig struct {
	// Source is "session", "jwt" or "both".
	Source    string
	JWTSecret string
	JWTIssuer string
}

type SecurityConfig struct {
	LoginBurst     int
	LoginPerSecond float64
}

type AuditConfig struct {
	LogSink bool
}

type AppConfig struct {
	Environment string
	LogLevel    string
	HTTP        HTTPConfig
	GRPC        GRPCConfig
	Storage     StorageConfig
	Redis       RedisConfig
	Session     SessionConfig
	Identity    IdentityConfig
	Security    SecurityConfig
	Audit       AuditConfig
}

// Load reads config.yaml (optional) and BAZAAR_* environment variables.
func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("BAZAAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("config: storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Session.Backend {
	case "store", "redis":
	default:
		return fmt.Errorf("config: unknown session.backend %q", c.Session.Backend)
	}
	switch c.Identity.Source {
	case "session":
	case "jwt", "both":
		if strings.TrimSpace(c.Identity.JWTSecret) == "" {
			return fmt.Errorf("config: identity.jwtsecret is required for source %q", c.Identity.Source)
		}
	default:
		return fmt.Errorf("config: unknown identity.source %q", c.Identity.Source)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("config: session.ttl must be positive")
	}
	if c.Session.TokenBytes < 32 {
		return fmt.Errorf("config: session.tokenbytes must be at least 32")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("loglevel", "")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readheadertimeout", "5s")
	v.SetDefault("http.readtimeout", "15s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")
	v.SetDefault("http.shutdowntimeout", "10s")
	v.SetDefault("http.maxbodybytes", 1<<20)
	v.SetDefault("http.alloworigins", []string{})

	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("grpc.enabled", true)

	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.maxopen", 50)
	v.SetDefault("storage.maxidle", 25)
	v.SetDefault("storage.connmaxlifetime", "15m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("session.ttl", "720h") // 30 days
	v.SetDefault("session.tokenbytes", 32)
	v.SetDefault("session.cleanupschedule", "0 */15 * * * *")
	v.SetDefault("session.backend", "store")

	v.SetDefault("identity.source", "session")
	v.SetDefault("identity.jwtsecret", "")
	v.SetDefault("identity.jwtissuer", "")

	v.SetDefault("security.loginburst", 10)
	v.SetDefault("security.loginpersecond", 1.0)

	v.SetDefault("audit.logsink", true)
}
