package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	TLS        TLSConfig        `mapstructure:"tls"`
	Signal     SignalConfig     `mapstructure:"signal"`
	Presenters PresentersConfig `mapstructure:"presenters"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Recording  RecordingConfig  `mapstructure:"recording"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle"`
}

type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// Enabled reports whether both halves of the key pair are configured.
func (t TLSConfig) Enabled() bool { return t.CertFile != "" && t.KeyFile != "" }

type SignalConfig struct {
	Path         string        `mapstructure:"path"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`

	// MaxQueuedCandidates bounds the candidates buffered per session.
	MaxQueuedCandidates int `mapstructure:"max_queued_candidates"`
}

type PresentersConfig struct {
	// Multi allows several named presenters to broadcast at the same time.
	Multi bool `mapstructure:"multi"`
}

type EngineConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	ICEServers  []string      `mapstructure:"ice_servers"`
	UDPPortMin  uint16        `mapstructure:"udp_port_min"`
	UDPPortMax  uint16        `mapstructure:"udp_port_max"`
	PLIInterval time.Duration `mapstructure:"pli_interval"`
}

type RecordingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Dir         string        `mapstructure:"dir"`
	RotateEvery time.Duration `mapstructure:"rotate_every"`
}

type LifecycleConfig struct {
	AMQPURL   string `mapstructure:"amqp_url"`
	Exchange  string `mapstructure:"exchange"`
	Workers   int    `mapstructure:"workers"`
	QueueSize int    `mapstructure:"queue_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8443)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("log_level", "info")

	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")

	v.SetDefault("signal.path", "/one2many")
	v.SetDefault("signal.rate_limit", 10)
	v.SetDefault("signal.rate_interval", "10s")
	v.SetDefault("signal.max_queued_candidates", 64)

	v.SetDefault("presenters.multi", true)

	v.SetDefault("engine.timeout", "10s")
	v.SetDefault("engine.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("engine.pli_interval", "3s")

	v.SetDefault("recording.enabled", false)
	v.SetDefault("recording.dir", "./recordings")
	v.SetDefault("recording.rotate_every", "0s")

	v.SetDefault("lifecycle.exchange", "one2many.lifecycle")
	v.SetDefault("lifecycle.workers", 2)
	v.SetDefault("lifecycle.queue_size", 256)
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("ONE2MANY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Static: %s | TLS: %t\n", cfg.Mode, cfg.Port, cfg.StaticPath, cfg.TLS.Enabled())
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Engine.UDPPortMax < cfg.Engine.UDPPortMin {
		return nil, fmt.Errorf("engine.udp_port_max (%d) below engine.udp_port_min (%d)", cfg.Engine.UDPPortMax, cfg.Engine.UDPPortMin)
	}
	if cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.Signal.MaxQueuedCandidates < 1 {
		cfg.Signal.MaxQueuedCandidates = 1
	}
	if cfg.Lifecycle.Workers < 1 {
		cfg.Lifecycle.Workers = 1
	}
	return &cfg, nil
}
