package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/Presence/internal/audit"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// DefaultSessionSecret signs session cookies when none is configured.
// Only debug mode accepts it.
const DefaultSessionSecret = "change-me-session-secret"

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

type AuditConfig struct {
	Log    bool              `mapstructure:"log"`
	Buffer int               `mapstructure:"buffer"`
	Redis  audit.RedisConfig `mapstructure:"redis"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	Backpressure string        `mapstructure:"backpressure"`

	PresenceBroadcast bool          `mapstructure:"presence_broadcast"`
	CallGracePeriod   time.Duration `mapstructure:"call_grace_period"`
	ReapInterval      time.Duration `mapstructure:"reap_interval"`
	RateLimit         int           `mapstructure:"rate_limit"`
	RateInterval      time.Duration `mapstructure:"rate_interval"`
	ICEServers        []string      `mapstructure:"ice_servers"`

	JWT     JWTConfig     `mapstructure:"jwt"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("PRESENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", DefaultSessionSecret)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("backpressure", "drop")
	v.SetDefault("presence_broadcast", true)
	v.SetDefault("call_grace_period", "2m")
	v.SetDefault("reap_interval", "30s")
	v.SetDefault("rate_limit", 50)
	v.SetDefault("rate_interval", "1s")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "")
	v.SetDefault("audit.log", true)
	v.SetDefault("audit.buffer", 1024)
	v.SetDefault("audit.redis.addr", "")
	v.SetDefault("audit.redis.password", "")
	v.SetDefault("audit.redis.db", 0)
	v.SetDefault("audit.redis.stream", "presence:audit")
	v.SetDefault("audit.redis.max_len", 10000)
	v.SetDefault("metrics.namespace", "presence")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
}

func (c *Config) Validate() error {
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping_period (%s) must be shorter than pong_wait (%s)", c.PingPeriod, c.PongWait)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.Backpressure != "drop" && c.Backpressure != "kick" {
		return fmt.Errorf("backpressure must be drop or kick, got %q", c.Backpressure)
	}
	if c.CallGracePeriod <= 0 || c.ReapInterval <= 0 {
		return errors.New("call_grace_period and reap_interval must be positive")
	}
	if c.CallGracePeriod <= c.PongWait {
		return fmt.Errorf("call_grace_period (%s) must be longer than pong_wait (%s)", c.CallGracePeriod, c.PongWait)
	}
	if c.Mode == "release" && (c.Secret == "" || c.Secret == DefaultSessionSecret) {
		return errors.New("secret must be set in release mode")
	}
	return nil
}

// Strict reports whether invariant violations should panic.
func (c *Config) Strict() bool { return c.Mode == "debug" }
