package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// EngineConfig holds the tuning constants shared by every autoscaler
// instance the daemon runs, per the external interface's tuning
// constant defaults.
type EngineConfig struct {
	Frequency                        time.Duration `json:"frequency"`                             // tick interval
	Cooldown                         time.Duration `json:"cooldown"`                              // minimum seconds between non-empty decisions
	RPSWindowSize                    time.Duration `json:"rps_window_size"`                        // request-rate meter window
	UpscaleDelay                     time.Duration `json:"upscale_delay"`                          // consecutive-period hysteresis, up
	DownscaleDelay                   time.Duration `json:"downscale_delay"`                        // consecutive-period hysteresis, down
	OverProvisionNum                 int           `json:"over_provision_num"`                     // extra spot capacity above target
	LBControllerSyncIntervalSeconds  int           `json:"lb_controller_sync_interval_seconds"`   // external; Frequency < this only warns
}

// ServiceConfig mirrors domain.ServiceSpec plus the autoscaler kind to
// construct for this service.
type ServiceConfig struct {
	ServiceID   string `json:"service_id"`
	Kind        string `json:"kind"` // "threshold" or "spot"
	MinReplicas int    `json:"min_replicas"`
	MaxReplicas int    `json:"max_replicas,omitempty"`

	QPSUpperThreshold   *float64 `json:"qps_upper_threshold,omitempty"`
	QPSLowerThreshold   *float64 `json:"qps_lower_threshold,omitempty"`
	TargetQPSPerReplica *float64 `json:"target_qps_per_replica,omitempty"`

	SpotPlacerKind string   `json:"spot_placer_kind,omitempty"`
	SpotZones      []string `json:"spot_zones,omitempty"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`      // Default: false
	Exporter    string  `json:"exporter"`     // otlp-http, stdout
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // fleetscaler
	SampleRate  float64 `json:"sample_rate"`  // 1.0
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`           // Default: true
	Namespace        string    `json:"namespace"`         // fleetscaler
	HistogramBuckets []float64 `json:"histogram_buckets"` // latency buckets in ms
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level          string `json:"level"`            // debug, info, warn, error
	Format         string `json:"format"`           // text, json
	IncludeTraceID bool   `json:"include_trace_id"` // correlate logs with traces
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// PostgresConfig holds decision journal connection settings.
type PostgresConfig struct {
	DSN string `json:"dsn"` // empty disables the journal (NoopRecorder)
}

// RedisConfig holds placer state cache and preemption feed connection
// settings.
type RedisConfig struct {
	Addr      string `json:"addr"`       // empty disables Redis-backed caching (in-memory default)
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"key_prefix"` // default: "fleetscaler:"
}

// AWSConfig holds the optional AWS-backed zone source settings.
type AWSConfig struct {
	Enabled bool   `json:"enabled"` // Default: false; ServiceConfig.SpotZones is used as-is otherwise
	Region  string `json:"region"`
}

// DaemonConfig holds daemon-specific settings.
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr"` // serves /metrics and /healthz
	LogLevel string `json:"log_level"`
}

// Config is the central configuration struct embedding all component
// configs.
type Config struct {
	Engine        EngineConfig        `json:"engine"`
	Services      []ServiceConfig     `json:"services"`
	Observability ObservabilityConfig `json:"observability"`
	Postgres      PostgresConfig      `json:"postgres"`
	Redis         RedisConfig         `json:"redis"`
	AWS           AWSConfig           `json:"aws"`
	Daemon        DaemonConfig        `json:"daemon"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Frequency:                       60 * time.Second,
			Cooldown:                        5 * time.Minute,
			RPSWindowSize:                   60 * time.Second,
			UpscaleDelay:                    300 * time.Second,
			DownscaleDelay:                  6000 * time.Second,
			OverProvisionNum:                1,
			LBControllerSyncIntervalSeconds: 30,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "fleetscaler",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "fleetscaler",
				HistogramBuckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
			},
		},
		Postgres: PostgresConfig{
			DSN: "",
		},
		Redis: RedisConfig{
			Addr:      "",
			KeyPrefix: "fleetscaler:",
		},
		AWS: AWSConfig{
			Enabled: false,
			Region:  "us-east-1",
		},
		Daemon: DaemonConfig{
			HTTPAddr: ":9091",
			LogLevel: "info",
		},
	}
}

// LoadFromFile loads configuration from a JSON file, applied on top of
// DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("FLEETSCALER_PG_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("FLEETSCALER_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("FLEETSCALER_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}

	if v := os.Getenv("FLEETSCALER_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FLEETSCALER_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FLEETSCALER_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}

	if v := os.Getenv("FLEETSCALER_AWS_ENABLED"); v != "" {
		cfg.AWS.Enabled = parseBool(v)
	}
	if v := os.Getenv("FLEETSCALER_AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}

	if v := os.Getenv("FLEETSCALER_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("FLEETSCALER_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("FLEETSCALER_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("FLEETSCALER_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("FLEETSCALER_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("FLEETSCALER_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("FLEETSCALER_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("FLEETSCALER_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("FLEETSCALER_LOG_INCLUDE_TRACE_ID"); v != "" {
		cfg.Observability.Logging.IncludeTraceID = parseBool(v)
	}

	if v := os.Getenv("FLEETSCALER_FREQUENCY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.Frequency = d
		}
	}
	if v := os.Getenv("FLEETSCALER_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.Cooldown = d
		}
	}
	if v := os.Getenv("FLEETSCALER_RPS_WINDOW_SIZE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.RPSWindowSize = d
		}
	}
	if v := os.Getenv("FLEETSCALER_UPSCALE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.UpscaleDelay = d
		}
	}
	if v := os.Getenv("FLEETSCALER_DOWNSCALE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.DownscaleDelay = d
		}
	}
	if v := os.Getenv("FLEETSCALER_OVER_PROVISION_NUM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.OverProvisionNum = n
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
