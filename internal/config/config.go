package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	Secret   string `mapstructure:"secret"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`

	RecordingsDir string `mapstructure:"recordings_dir"`
	MaxChunkBytes int    `mapstructure:"max_chunk_bytes"`

	ICEServers       []string      `mapstructure:"ice_servers"`
	LegacyBroadcast  bool          `mapstructure:"legacy_broadcast"`
	ResyncTimeout    time.Duration `mapstructure:"resync_timeout"`
	UploadAckTimeout time.Duration `mapstructure:"upload_ack_timeout"`

	LogRateLimit    int           `mapstructure:"log_rate_limit"`
	LogRateInterval time.Duration `mapstructure:"log_rate_interval"`
}

var ErrInvalid = errors.New("invalid config")

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults when
// the file is missing. RELAY_* environment variables override both.
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
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("relay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
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
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("recordings", cfg.RecordingsDir).Bool("legacy", cfg.LegacyBroadcast).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "camrelay-dev-secret")
	v.SetDefault("read_limit", 4<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("recordings_dir", "./recordings")
	v.SetDefault("max_chunk_bytes", 2<<20)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("legacy_broadcast", true)
	v.SetDefault("resync_timeout", "8s")
	v.SetDefault("upload_ack_timeout", "3s")
	v.SetDefault("log_rate_limit", 50)
	v.SetDefault("log_rate_interval", "10s")
}

func (c *Config) Validate() error {
	switch {
	case c.Mode != "debug" && c.Mode != "release" && c.Mode != "test":
		return fmt.Errorf("%w: mode %q", ErrInvalid, c.Mode)
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Port)
	case c.PingPeriod <= 0 || c.PongWait <= c.PingPeriod:
		return fmt.Errorf("%w: ping_period must be positive and below pong_wait", ErrInvalid)
	case c.SendBuffer <= 0:
		return fmt.Errorf("%w: send_buffer %d", ErrInvalid, c.SendBuffer)
	case c.MaxChunkBytes <= 0 || int64(c.MaxChunkBytes) > c.ReadLimit:
		return fmt.Errorf("%w: max_chunk_bytes must fit in read_limit", ErrInvalid)
	case c.ResyncTimeout <= 0 || c.UploadAckTimeout <= 0:
		return fmt.Errorf("%w: resync_timeout and upload_ack_timeout must be positive", ErrInvalid)
	case c.RecordingsDir == "":
		return fmt.Errorf("%w: recordings_dir is empty", ErrInvalid)
	}
	return nil
}
