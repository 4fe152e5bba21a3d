// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Planner provider identifiers. Selection happens once at construction time;
// the rest of the system only ever sees the Planner interface.
const (
	ProviderGemini = "gemini"
	ProviderVLM    = "vlm"
	ProviderNone   = "none"
)

// Surface driver identifiers.
const (
	SurfaceNull = "null"
	SurfaceCDP  = "cdp"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Planner PlannerConfig `mapstructure:"planner" yaml:"planner"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Surface SurfaceConfig `mapstructure:"surface" yaml:"surface"`
}

// LoggerConfig controls the zap logger construction.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AgentConfig tunes the control loop.
type AgentConfig struct {
	Mode              string `mapstructure:"mode" yaml:"mode"`
	Goal              string `mapstructure:"goal" yaml:"goal"`
	ActiveWindowStart string `mapstructure:"active_window_start" yaml:"active_window_start"`
	ActiveWindowStop  string `mapstructure:"active_window_stop" yaml:"active_window_stop"`

	// Tick pacing. The loop sleeps TickInterval after a normal tick,
	// WaitTickInterval when the last executed step was a WAIT, and
	// NoPlanInterval when the cache produced nothing.
	TickInterval     time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	WaitTickInterval time.Duration `mapstructure:"wait_tick_interval" yaml:"wait_tick_interval"`
	NoPlanInterval   time.Duration `mapstructure:"no_plan_interval" yaml:"no_plan_interval"`
	SleepInterval    time.Duration `mapstructure:"sleep_interval" yaml:"sleep_interval"`

	// Minimum time between screen captures; within it the last observation
	// is reused.
	CaptureMinInterval time.Duration `mapstructure:"capture_min_interval" yaml:"capture_min_interval"`

	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	AffectDecayRate     float64 `mapstructure:"affect_decay_rate" yaml:"affect_decay_rate"`
	AffectStimulus      float64 `mapstructure:"affect_stimulus" yaml:"affect_stimulus"`

	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
}

// PlannerConfig configures the decision backend and the local call pacing.
type PlannerConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`

	// Backoff windows armed after a failed planning call. Rate-limit style
	// failures use the larger base.
	BackoffBase          time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	RateLimitBackoffBase time.Duration `mapstructure:"rate_limit_backoff_base" yaml:"rate_limit_backoff_base"`
	BackoffMax           time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`

	// Hard floor between two backend calls, enforced locally regardless of
	// fingerprint churn.
	MinCallInterval time.Duration `mapstructure:"min_call_interval" yaml:"min_call_interval"`
}

// StorageConfig locates the persisted agent data.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SurfaceConfig selects and configures the observable surface the agent
// captures and drives.
type SurfaceConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"`
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	StartURL string `mapstructure:"start_url" yaml:"start_url"`
	Width    int    `mapstructure:"width" yaml:"width"`
	Height   int    `mapstructure:"height" yaml:"height"`
}

// NewDefaultConfig returns a Config populated with sane defaults. Used
// directly by tests and as the baseline before viper overrides.
func NewDefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "marionette",
			MaxSize:     50,
			MaxBackups:  3,
			MaxAge:      14,
		},
		Agent: AgentConfig{
			Mode:                "GOAL",
			TickInterval:        2 * time.Second,
			WaitTickInterval:    time.Second,
			NoPlanInterval:      1500 * time.Millisecond,
			SleepInterval:       5 * time.Second,
			CaptureMinInterval:  5 * time.Second,
			ConfidenceThreshold: 0.55,
			AffectDecayRate:     0.03,
			AffectStimulus:      0.02,
			StopTimeout:         3 * time.Second,
		},
		Planner: PlannerConfig{
			Provider:             ProviderGemini,
			Model:                "gemini-2.5-flash",
			APITimeout:           120 * time.Second,
			Temperature:          0.0,
			MaxTokens:            1024,
			BackoffBase:          5 * time.Second,
			RateLimitBackoffBase: 10 * time.Second,
			BackoffMax:           2 * time.Minute,
			MinCallInterval:      time.Second,
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8000",
			ShutdownTimeout: 5 * time.Second,
		},
		Surface: SurfaceConfig{
			Driver: SurfaceNull,
			Width:  1280,
			Height: 720,
		},
	}
}

// Load reads the configuration from the given file (or the default search
// path when empty), layering file values and environment variables
// (MARIONETTE_*) over the built-in defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("MARIONETTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the rest of the system cannot honor.
func (c *Config) Validate() error {
	switch c.Planner.Provider {
	case ProviderGemini, ProviderVLM, ProviderNone:
	default:
		return fmt.Errorf("unknown planner provider %q (supported: %s, %s, %s)",
			c.Planner.Provider, ProviderGemini, ProviderVLM, ProviderNone)
	}

	switch c.Surface.Driver {
	case SurfaceNull, SurfaceCDP:
	default:
		return fmt.Errorf("unknown surface driver %q (supported: %s, %s)",
			c.Surface.Driver, SurfaceNull, SurfaceCDP)
	}

	if c.Agent.ConfidenceThreshold < 0 || c.Agent.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %.2f out of range [0,1]", c.Agent.ConfidenceThreshold)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir must not be empty")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.format", d.Logger.Format)
	v.SetDefault("logger.service_name", d.Logger.ServiceName)
	v.SetDefault("logger.max_size", d.Logger.MaxSize)
	v.SetDefault("logger.max_backups", d.Logger.MaxBackups)
	v.SetDefault("logger.max_age", d.Logger.MaxAge)

	v.SetDefault("agent.mode", d.Agent.Mode)
	v.SetDefault("agent.tick_interval", d.Agent.TickInterval)
	v.SetDefault("agent.wait_tick_interval", d.Agent.WaitTickInterval)
	v.SetDefault("agent.no_plan_interval", d.Agent.NoPlanInterval)
	v.SetDefault("agent.sleep_interval", d.Agent.SleepInterval)
	v.SetDefault("agent.capture_min_interval", d.Agent.CaptureMinInterval)
	v.SetDefault("agent.confidence_threshold", d.Agent.ConfidenceThreshold)
	v.SetDefault("agent.affect_decay_rate", d.Agent.AffectDecayRate)
	v.SetDefault("agent.affect_stimulus", d.Agent.AffectStimulus)
	v.SetDefault("agent.stop_timeout", d.Agent.StopTimeout)

	v.SetDefault("planner.provider", d.Planner.Provider)
	v.SetDefault("planner.model", d.Planner.Model)
	v.SetDefault("planner.api_timeout", d.Planner.APITimeout)
	v.SetDefault("planner.temperature", d.Planner.Temperature)
	v.SetDefault("planner.max_tokens", d.Planner.MaxTokens)
	v.SetDefault("planner.backoff_base", d.Planner.BackoffBase)
	v.SetDefault("planner.rate_limit_backoff_base", d.Planner.RateLimitBackoffBase)
	v.SetDefault("planner.backoff_max", d.Planner.BackoffMax)
	v.SetDefault("planner.min_call_interval", d.Planner.MinCallInterval)

	v.SetDefault("storage.data_dir", d.Storage.DataDir)

	v.SetDefault("server.listen_addr", d.Server.ListenAddr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("surface.driver", d.Surface.Driver)
	v.SetDefault("surface.width", d.Surface.Width)
	v.SetDefault("surface.height", d.Surface.Height)
}
