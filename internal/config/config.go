package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/menta2k/gridpilot/pkg/types"
)

// Config holds the application configuration
type Config struct {
	Oracle    OracleConfig    `mapstructure:"oracle" json:"oracle"`
	Targeting TargetingConfig `mapstructure:"targeting" json:"targeting"`
	Loop      LoopConfig      `mapstructure:"loop" json:"loop"`
	Capture   CaptureConfig   `mapstructure:"capture" json:"capture"`
	Executor  ExecutorConfig  `mapstructure:"executor" json:"executor"`
	Recorder  RecorderConfig  `mapstructure:"recorder" json:"recorder"`
	Logger    LoggerConfig    `mapstructure:"logger" json:"logger"`
	Metrics   MetricsConfig   `mapstructure:"metrics" json:"metrics"`
}

// OracleConfig selects and tunes the vision model backend
type OracleConfig struct {
	// Backend is one of ollama, llamacpp, openai, gemini
	Backend     string        `mapstructure:"backend" json:"backend"`
	URL         string        `mapstructure:"url" json:"url"`
	Model       string        `mapstructure:"model" json:"model"`
	APIKey      string        `mapstructure:"api_key" json:"api_key,omitempty"`
	Temperature float64       `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" json:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
	// RequestsPerMinute caps query starts; 0 disables limiting
	RequestsPerMinute int         `mapstructure:"requests_per_minute" json:"requests_per_minute"`
	Retry             RetryConfig `mapstructure:"retry" json:"retry"`
	// Images sent to the model are re-encoded with these settings
	ImageFormat  string `mapstructure:"image_format" json:"image_format"`
	MaxImageDim  int    `mapstructure:"max_image_dim" json:"max_image_dim"`
	ImageQuality int    `mapstructure:"image_quality" json:"image_quality"`
}

// RetryConfig bounds transport retries
type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" json:"max_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time" json:"max_elapsed_time"`
	MaxRetries      int           `mapstructure:"max_retries" json:"max_retries"`
}

// TargetingConfig holds the refinement pipeline layout
type TargetingConfig struct {
	Stages []types.GridSpec `mapstructure:"stages" json:"stages"`
	// Attempts is the number of tries per stage on unparseable replies
	Attempts int `mapstructure:"attempts" json:"attempts"`
	// ContextImage sends the full screen with the region outlined to later stages
	ContextImage bool `mapstructure:"context_image" json:"context_image"`
}

// LoopConfig bounds the action loop
type LoopConfig struct {
	MaxIterations   int `mapstructure:"max_iterations" json:"max_iterations"`
	ResolveAttempts int `mapstructure:"resolve_attempts" json:"resolve_attempts"`
}

// CaptureConfig selects where screenshots come from
type CaptureConfig struct {
	// Source is one of file, url, command
	Source  string   `mapstructure:"source" json:"source"`
	Path    string   `mapstructure:"path" json:"path"`
	URL     string   `mapstructure:"url" json:"url"`
	Command []string `mapstructure:"command" json:"command"`
}

// ExecutorConfig controls how actions reach the desktop
type ExecutorConfig struct {
	// Mode is command or dryrun
	Mode        string            `mapstructure:"mode" json:"mode"`
	Commands    map[string]string `mapstructure:"commands" json:"commands"`
	ScaleFactor float64           `mapstructure:"scale_factor" json:"scale_factor"`
	ActionDelay time.Duration     `mapstructure:"action_delay" json:"action_delay"`
}

// RecorderConfig controls execution artifact output
type RecorderConfig struct {
	Enabled      bool   `mapstructure:"enabled" json:"enabled"`
	Dir          string `mapstructure:"dir" json:"dir"`
	ImageFormat  string `mapstructure:"image_format" json:"image_format"`
	ImageQuality int    `mapstructure:"image_quality" json:"image_quality"`
	QueueSize    int    `mapstructure:"queue_size" json:"queue_size"`
	MarkerRadius int    `mapstructure:"marker_radius" json:"marker_radius"`
}

// LoggerConfig holds all the configuration for the logger
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level"`
	Format      string      `mapstructure:"format" json:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors"`
}

// ColorConfig names the console color of each log level
type ColorConfig struct {
	Debug string `mapstructure:"debug" json:"debug"`
	Info  string `mapstructure:"info" json:"info"`
	Warn  string `mapstructure:"warn" json:"warn"`
	Error string `mapstructure:"error" json:"error"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	// Listen is the address for /metrics; empty disables the endpoint
	Listen string `mapstructure:"listen" json:"listen"`
}

// SetDefaults registers every default value on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("oracle.backend", "openai")
	v.SetDefault("oracle.url", "")
	v.SetDefault("oracle.model", "gpt-4o")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.temperature", 0.0)
	v.SetDefault("oracle.max_tokens", 256)
	v.SetDefault("oracle.timeout", "2m")
	v.SetDefault("oracle.requests_per_minute", 0)
	v.SetDefault("oracle.retry.initial_interval", "1s")
	v.SetDefault("oracle.retry.max_interval", "8s")
	v.SetDefault("oracle.retry.max_elapsed_time", "1m")
	v.SetDefault("oracle.retry.max_retries", 2)
	v.SetDefault("oracle.image_format", "png")
	v.SetDefault("oracle.max_image_dim", 0)
	v.SetDefault("oracle.image_quality", 85)

	v.SetDefault("targeting.stages", []map[string]any{
		{"columns": 10, "rows": 10},
		{"columns": 2, "rows": 2},
	})
	v.SetDefault("targeting.attempts", 3)
	v.SetDefault("targeting.context_image", true)

	v.SetDefault("loop.max_iterations", 20)
	v.SetDefault("loop.resolve_attempts", 3)

	v.SetDefault("capture.source", "command")
	v.SetDefault("capture.path", "")
	v.SetDefault("capture.url", "")
	v.SetDefault("capture.command", []string{"import", "-window", "root", "png:-"})

	v.SetDefault("executor.mode", "command")
	v.SetDefault("executor.commands", map[string]string{
		"click":        "xdotool mousemove {x} {y} click 1",
		"double_click": "xdotool mousemove {x} {y} click --repeat 2 1",
		"right_click":  "xdotool mousemove {x} {y} click 3",
		"type":         "xdotool type --delay 50 {text}",
		"key":          "xdotool key {key}",
	})
	v.SetDefault("executor.scale_factor", 1.0)
	v.SetDefault("executor.action_delay", "1s")

	v.SetDefault("recorder.enabled", true)
	v.SetDefault("recorder.dir", "execution")
	v.SetDefault("recorder.image_format", "png")
	v.SetDefault("recorder.image_quality", 90)
	v.SetDefault("recorder.queue_size", 64)
	v.SetDefault("recorder.marker_radius", 15)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "gridpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	v.SetDefault("metrics.listen", "")
}

// Default returns a configuration with default values
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Load builds the configuration from defaults, an optional config file,
// a .env file in the working directory, and GRIDPILOT_* environment variables.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is Load with values, keyed like "oracle.backend", that
// take precedence over every other source. The CLI passes its flags here.
func LoadWithOverrides(path string, overrides map[string]any) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("GRIDPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyKeyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadFromFile loads configuration from a JSON or YAML file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	if _, err := os.Stat(filename); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Load(filename)
}

// applyKeyFallbacks fills the API key from the provider's usual variable
func (c *Config) applyKeyFallbacks() {
	if c.Oracle.APIKey != "" {
		return
	}
	switch c.Oracle.Backend {
	case "openai":
		c.Oracle.APIKey = os.Getenv("OPENAI_API_KEY")
	case "gemini":
		c.Oracle.APIKey = os.Getenv("GEMINI_API_KEY")
		if c.Oracle.APIKey == "" {
			c.Oracle.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
	}
}

// SaveToFile saves configuration to a JSON file. The API key is not written.
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *c
	out.Oracle.APIKey = ""
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Oracle.Backend {
	case "ollama", "llamacpp":
	case "openai", "gemini":
		if c.Oracle.APIKey == "" {
			return fmt.Errorf("oracle.api_key is required for the %s backend", c.Oracle.Backend)
		}
	default:
		return fmt.Errorf("oracle.backend must be one of ollama, llamacpp, openai, gemini (got %q)", c.Oracle.Backend)
	}

	if c.Oracle.Model == "" && c.Oracle.Backend != "llamacpp" {
		return fmt.Errorf("oracle.model is required")
	}

	if c.Oracle.ImageQuality < 1 || c.Oracle.ImageQuality > 100 {
		return fmt.Errorf("oracle.image_quality must be between 1 and 100")
	}

	if c.Oracle.MaxImageDim < 0 {
		return fmt.Errorf("oracle.max_image_dim cannot be negative")
	}

	if len(c.Targeting.Stages) == 0 {
		return fmt.Errorf("targeting.stages cannot be empty")
	}
	for i, s := range c.Targeting.Stages {
		if s.Columns < 1 || s.Rows < 1 || s.Cells() < 2 {
			return fmt.Errorf("targeting.stages[%d] must have at least two cells (got %s)", i, s)
		}
	}

	if c.Targeting.Attempts < 1 {
		return fmt.Errorf("targeting.attempts must be positive")
	}

	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop.max_iterations must be positive")
	}

	if c.Loop.ResolveAttempts < 1 {
		return fmt.Errorf("loop.resolve_attempts must be positive")
	}

	switch c.Capture.Source {
	case "file":
		if c.Capture.Path == "" {
			return fmt.Errorf("capture.path is required for the file source")
		}
	case "url":
		if c.Capture.URL == "" {
			return fmt.Errorf("capture.url is required for the url source")
		}
	case "command":
		if len(c.Capture.Command) == 0 {
			return fmt.Errorf("capture.command cannot be empty")
		}
	default:
		return fmt.Errorf("capture.source must be one of file, url, command (got %q)", c.Capture.Source)
	}

	switch c.Executor.Mode {
	case "command", "dryrun":
	default:
		return fmt.Errorf("executor.mode must be command or dryrun (got %q)", c.Executor.Mode)
	}

	if c.Executor.ScaleFactor <= 0 {
		return fmt.Errorf("executor.scale_factor must be positive")
	}

	if c.Recorder.Enabled && c.Recorder.Dir == "" {
		return fmt.Errorf("recorder.dir is required when the recorder is enabled")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "gridpilot", "config.yaml")
}
