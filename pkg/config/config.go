package config

import (
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config captures the full runtime configuration for a FileFlow process.
// Both the listener and the monitor load the same structure and use the
// sections relevant to them.
type Config struct {
	App      AppConfig
	NATS     NATSConfig
	Stream   StreamConfig
	Consumer ConsumerConfig
	Paths    PathsConfig
	Ops      OpsConfig
	Tracing  TracingConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"fileflow"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"APP_LOG_FORMAT" envDefault:"json"`
}

type NATSConfig struct {
	URL            string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	MaxRetries     int           `env:"NATS_MAX_RETRIES" envDefault:"3"`
	RetryDelay     time.Duration `env:"NATS_RETRY_DELAY" envDefault:"2s"`
	ConnectTimeout time.Duration `env:"NATS_CONNECT_TIMEOUT" envDefault:"10s"`
	ReconnectWait  time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`
	MaxReconnects  int           `env:"NATS_MAX_RECONNECTS" envDefault:"5"`
}

type StreamConfig struct {
	Name    string `env:"STREAM_NAME" envDefault:"FILES"`
	Subject string `env:"STREAM_SUBJECT" envDefault:"file.events"`
}

type ConsumerConfig struct {
	Durable      string        `env:"CONSUMER_DURABLE" envDefault:"file-monitor"`
	BatchSize    int           `env:"CONSUMER_BATCH_SIZE" envDefault:"1"`
	FetchTimeout time.Duration `env:"CONSUMER_FETCH_TIMEOUT" envDefault:"1s"`
	RetryBackoff time.Duration `env:"CONSUMER_RETRY_BACKOFF" envDefault:"2s"`
}

type PathsConfig struct {
	WatchDir   string `env:"WATCH_DIR" envDefault:"./test/storage"`
	MonitorDir string `env:"MONITOR_DIR" envDefault:"./test/monitor"`
	LogFile    string `env:"MONITOR_LOG_FILE"`
}

type OpsConfig struct {
	// Addr enables the operational HTTP endpoint when non-empty.
	Addr         string        `env:"OPS_ADDR"`
	ReadTimeout  time.Duration `env:"OPS_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"OPS_WRITE_TIMEOUT" envDefault:"10s"`
	IdleTimeout  time.Duration `env:"OPS_IDLE_TIMEOUT" envDefault:"60s"`
}

type TracingConfig struct {
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
}

// Load parses environment variables into Config. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.Paths.LogFile == "" {
		cfg.Paths.LogFile = filepath.Join(cfg.Paths.MonitorDir, "storage_monitor.log")
	}
	return cfg, nil
}
