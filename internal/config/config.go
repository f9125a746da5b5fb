// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/souravmenon1999/dex-order-engine/internal/types"
)

// EnvPrefix prefixes every environment override, e.g. ORDERENGINE_LOG_LEVEL.
const EnvPrefix = "ORDERENGINE"

// Config holds the application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket" yaml:"websocket"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Router    RouterConfig    `mapstructure:"router" yaml:"router"`
	Execution ExecutionConfig `mapstructure:"execution" yaml:"execution"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	ListenAddr        string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// WebSocketConfig holds settings for the per-order status channel.
type WebSocketConfig struct {
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PongWait        time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	PingInterval    time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"` // must be shorter than pong_wait
	ReadBufferSize  int           `mapstructure:"read_buffer_size" yaml:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size" yaml:"write_buffer_size"`
}

// PipelineConfig bounds pipeline concurrency and stage durations.
type PipelineConfig struct {
	MaxInFlight    int64         `mapstructure:"max_in_flight" yaml:"max_in_flight"`
	MaxAmount      float64       `mapstructure:"max_amount" yaml:"max_amount"` // 0 disables the upper bound
	RoutingTimeout time.Duration `mapstructure:"routing_timeout" yaml:"routing_timeout"`
	BuildTimeout   time.Duration `mapstructure:"build_timeout" yaml:"build_timeout"`
	SubmitTimeout  time.Duration `mapstructure:"submit_timeout" yaml:"submit_timeout"`
}

// RouterConfig describes the candidate venues.
type RouterConfig struct {
	BasePrice    float64       `mapstructure:"base_price" yaml:"base_price"` // Use float64 for config parsing, convert to decimal later
	QuoteLatency time.Duration `mapstructure:"quote_latency" yaml:"quote_latency"`
	Venues       []VenueConfig `mapstructure:"venues" yaml:"venues"`
	Breaker      BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

// VenueConfig is one simulated venue quoting base_price * U(min_factor, max_factor).
type VenueConfig struct {
	Name      string  `mapstructure:"name" yaml:"name"`
	MinFactor float64 `mapstructure:"min_factor" yaml:"min_factor"`
	MaxFactor float64 `mapstructure:"max_factor" yaml:"max_factor"`
}

// BreakerConfig holds per-venue circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold" yaml:"success_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`
}

// ExecutionConfig holds the simulated build/submit delays.
type ExecutionConfig struct {
	BuildDelay  time.Duration `mapstructure:"build_delay" yaml:"build_delay"`
	SubmitDelay time.Duration `mapstructure:"submit_delay" yaml:"submit_delay"`
	FailureRate float64       `mapstructure:"failure_rate" yaml:"failure_rate"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`                   // debug, info, warn, error
	Format        string `mapstructure:"format" yaml:"format"`                 // console, json
	StatsSchedule string `mapstructure:"stats_schedule" yaml:"stats_schedule"` // cron spec for the status report, empty disables
}

// SetDefaults registers a default for every key so that env overrides
// resolve even without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":3000")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("websocket.write_timeout", 5*time.Second)
	v.SetDefault("websocket.pong_wait", 60*time.Second)
	v.SetDefault("websocket.ping_interval", 54*time.Second)
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)

	v.SetDefault("pipeline.max_in_flight", 1024)
	v.SetDefault("pipeline.max_amount", 0)
	v.SetDefault("pipeline.routing_timeout", 5*time.Second)
	v.SetDefault("pipeline.build_timeout", 5*time.Second)
	v.SetDefault("pipeline.submit_timeout", 5*time.Second)

	v.SetDefault("router.base_price", 100)
	v.SetDefault("router.quote_latency", 500*time.Millisecond)
	v.SetDefault("router.venues", []map[string]any{
		{"name": "Raydium", "min_factor": 0.98, "max_factor": 1.02},
		{"name": "Meteora", "min_factor": 0.97, "max_factor": 1.02},
	})
	v.SetDefault("router.breaker.failure_threshold", 5)
	v.SetDefault("router.breaker.success_threshold", 2)
	v.SetDefault("router.breaker.open_timeout", 30*time.Second)

	v.SetDefault("execution.build_delay", time.Second)
	v.SetDefault("execution.submit_delay", 1500*time.Millisecond)
	v.SetDefault("execution.failure_rate", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.stats_schedule", "@every 1m")
}

// LoadConfig reads configuration from configPath (optional; empty means
// defaults plus environment only).
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")

		// Read the config file
		if err := v.ReadInConfig(); err != nil {
			return nil, types.TradingError{
				Code:    types.ErrConfigLoading,
				Message: "Failed to read config file",
				Wrapped: err,
			}
		}
	}

	// Unmarshal the config into the struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, types.TradingError{
			Code:    types.ErrConfigLoading,
			Message: "Failed to unmarshal config",
			Wrapped: err,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, types.TradingError{
			Code:    types.ErrConfigLoading,
			Message: "Invalid config",
			Wrapped: err,
		}
	}
	return &cfg, nil
}

// Validate checks value ranges that the rest of the program relies on.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Pipeline.MaxInFlight <= 0 {
		return fmt.Errorf("pipeline.max_in_flight must be positive, got %d", c.Pipeline.MaxInFlight)
	}
	if c.Pipeline.MaxAmount < 0 {
		return fmt.Errorf("pipeline.max_amount must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"pipeline.routing_timeout": c.Pipeline.RoutingTimeout,
		"pipeline.build_timeout":   c.Pipeline.BuildTimeout,
		"pipeline.submit_timeout":  c.Pipeline.SubmitTimeout,
		"websocket.write_timeout":  c.WebSocket.WriteTimeout,
		"websocket.pong_wait":      c.WebSocket.PongWait,
		"websocket.ping_interval":  c.WebSocket.PingInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket.ping_interval (%s) must be shorter than websocket.pong_wait (%s)",
			c.WebSocket.PingInterval, c.WebSocket.PongWait)
	}
	if c.Router.BasePrice <= 0 {
		return fmt.Errorf("router.base_price must be positive")
	}
	if len(c.Router.Venues) == 0 {
		return fmt.Errorf("router.venues must list at least one venue")
	}
	seen := make(map[string]struct{}, len(c.Router.Venues))
	for i, v := range c.Router.Venues {
		if v.Name == "" {
			return fmt.Errorf("router.venues[%d].name is required", i)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("router.venues[%d]: duplicate venue %q", i, v.Name)
		}
		seen[v.Name] = struct{}{}
		if v.MinFactor <= 0 || v.MaxFactor < v.MinFactor {
			return fmt.Errorf("router.venues[%d] (%s): need 0 < min_factor <= max_factor", i, v.Name)
		}
	}
	if c.Router.Breaker.FailureThreshold <= 0 || c.Router.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("router.breaker thresholds must be positive")
	}
	if c.Execution.FailureRate < 0 || c.Execution.FailureRate > 1 {
		return fmt.Errorf("execution.failure_rate must be within [0, 1]")
	}
	if c.Log.StatsSchedule != "" {
		if _, err := cron.ParseStandard(c.Log.StatsSchedule); err != nil {
			return fmt.Errorf("log.stats_schedule: %w", err)
		}
	}
	return nil
}

// Dump renders the effective configuration as YAML that LoadConfig accepts.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}
