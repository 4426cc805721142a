package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up by LoadFromDir.
const FileName = "codezoo.yaml"

// Config represents the codezoo configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Editor    EditorConfig    `yaml:"editor"`
	Auth      AuthConfig      `yaml:"auth"`
	API       *APIConfig      `yaml:"api,omitempty"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Preview   PreviewConfig   `yaml:"preview"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Host    string `yaml:"host"`
	Debug   bool   `yaml:"debug"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects the SQL driver and connection string.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (default) or "postgres"
	DSN    string `yaml:"dsn"`    // env vars expanded
}

// GetDriver returns the driver name (default: sqlite)
func (c DatabaseConfig) GetDriver() string {
	if c.Driver == "" {
		return "sqlite"
	}
	return c.Driver
}

// GetDSN returns the connection string with environment variables expanded
// (default: ./codezoo.db)
func (c DatabaseConfig) GetDSN() string {
	if c.DSN == "" {
		return "codezoo.db"
	}
	return os.ExpandEnv(c.DSN)
}

// EditorConfig tunes the editor session.
type EditorConfig struct {
	Debounce       string  `yaml:"debounce,omitempty"`       // compile debounce. Default: 350ms
	AutosaveDelay  string  `yaml:"autosave_delay,omitempty"` // idle time before autosave. Default: 4s
	MinPanePercent float64 `yaml:"min_pane_percent,omitempty"`
	DefaultSplit   string  `yaml:"default_split,omitempty"` // "horizontal" or "vertical"
}

// GetDebounce returns the compile debounce (default: 350ms)
func (c EditorConfig) GetDebounce() time.Duration {
	return parseDuration(c.Debounce, 350*time.Millisecond)
}

// GetAutosaveDelay returns the autosave delay (default: 4s)
func (c EditorConfig) GetAutosaveDelay() time.Duration {
	return parseDuration(c.AutosaveDelay, 4*time.Second)
}

// GetMinPanePercent returns the pane size floor (default: 10)
func (c EditorConfig) GetMinPanePercent() float64 {
	if c.MinPanePercent <= 0 || c.MinPanePercent >= 50 {
		return 10
	}
	return c.MinPanePercent
}

// GetDefaultSplit returns the initial editor/preview split (default: horizontal)
func (c EditorConfig) GetDefaultSplit() string {
	if c.DefaultSplit == "vertical" {
		return "vertical"
	}
	return "horizontal"
}

// AuthConfig holds session cookie and password hashing settings
type AuthConfig struct {
	CookieName    string `yaml:"cookie_name,omitempty"`
	SessionTTL    string `yaml:"session_ttl,omitempty"`
	SecureCookies *bool  `yaml:"secure_cookies,omitempty"`
	BcryptCost    int    `yaml:"bcrypt_cost,omitempty"`
}

// GetCookieName returns the session cookie name (default: cz_session)
func (c AuthConfig) GetCookieName() string {
	if c.CookieName == "" {
		return "cz_session"
	}
	return c.CookieName
}

// GetSessionTTL returns the session lifetime (default: 30 days)
func (c AuthConfig) GetSessionTTL() time.Duration {
	return parseDuration(c.SessionTTL, 30*24*time.Hour)
}

// IsSecure returns whether cookies carry the Secure flag (default: true)
func (c AuthConfig) IsSecure() bool {
	if c.SecureCookies == nil {
		return true
	}
	return *c.SecureCookies
}

// GetBcryptCost returns the bcrypt cost (default: 12)
func (c AuthConfig) GetBcryptCost() int {
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return 12
	}
	return c.BcryptCost
}

// APIConfig holds JSON API configuration
type APIConfig struct {
	CORS      *CORSConfig      `yaml:"cors,omitempty"`
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// CORSConfig holds CORS configuration for the API
type CORSConfig struct {
	Origins []string `yaml:"origins,omitempty"` // Allowed origins (e.g., ["http://localhost:3000", "*"])
}

// RateLimitConfig holds rate limiting configuration for the API
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // Default: 10
	Burst             int     `yaml:"burst,omitempty"`               // Default: 20
	MaxIPs            int     `yaml:"max_ips,omitempty"`             // Tracked client IPs. Default: 10000
}

// GetCORSOrigins returns the configured CORS origins, or nil if not configured
func (c *APIConfig) GetCORSOrigins() []string {
	if c == nil || c.CORS == nil {
		return nil
	}
	return c.CORS.Origins
}

// GetRateLimitRPS returns the rate limit in requests per second (default: 10)
func (c *APIConfig) GetRateLimitRPS() float64 {
	if c == nil || c.RateLimit == nil || c.RateLimit.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RateLimit.RequestsPerSecond
}

// GetRateLimitBurst returns the burst size (default: 20)
func (c *APIConfig) GetRateLimitBurst() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.Burst <= 0 {
		return 20
	}
	return c.RateLimit.Burst
}

// GetRateLimitMaxIPs returns how many client IPs the limiter tracks (default: 10000)
func (c *APIConfig) GetRateLimitMaxIPs() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.MaxIPs <= 0 {
		return 10000
	}
	return c.RateLimit.MaxIPs
}

// ToolchainConfig overrides how external preprocessors run.
type ToolchainConfig struct {
	Tools   map[string]ToolConfig `yaml:"tools,omitempty"` // keyed by preprocessor id (scss, less, coffeescript, ...)
	Circuit *CircuitConfig        `yaml:"circuit,omitempty"`
}

// ToolConfig describes one preprocessor backend.
type ToolConfig struct {
	Type    string            `yaml:"type"`              // "exec" or "wasm"
	Cmd     string            `yaml:"cmd,omitempty"`     // For exec: command line, source is piped to stdin
	Path    string            `yaml:"path,omitempty"`    // For wasm: path to a WASI command module
	Args    []string          `yaml:"args,omitempty"`    // For wasm: argv after the program name
	Env     map[string]string `yaml:"env,omitempty"`     // env vars expanded
	Timeout string            `yaml:"timeout,omitempty"` // Default: 10s
}

// GetTimeout returns the parsed timeout duration (default: 10s)
func (c ToolConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

// GetEnv returns Env with environment variables expanded.
func (c ToolConfig) GetEnv() map[string]string {
	env := make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		env[k] = os.ExpandEnv(v)
	}
	return env
}

// CircuitConfig configures the breaker that guards external preprocessors.
type CircuitConfig struct {
	FailureThreshold int    `yaml:"failure_threshold,omitempty"` // Default: 5
	Timeout          string `yaml:"timeout,omitempty"`           // Default: 30s
}

// GetFailureThreshold returns failures before the circuit opens (default: 5)
func (c *CircuitConfig) GetFailureThreshold() int {
	if c == nil || c.FailureThreshold <= 0 {
		return 5
	}
	return c.FailureThreshold
}

// GetTimeout returns how long an open circuit waits before probing (default: 30s)
func (c *CircuitConfig) GetTimeout() time.Duration {
	if c == nil {
		return 30 * time.Second
	}
	return parseDuration(c.Timeout, 30*time.Second)
}

// PreviewConfig controls the in-memory preview registry.
type PreviewConfig struct {
	SessionTTL string `yaml:"session_ttl,omitempty"` // Default: 1h
}

// GetSessionTTL returns how long an idle preview is kept (default: 1h)
func (c PreviewConfig) GetSessionTTL() time.Duration {
	return parseDuration(c.SessionTTL, time.Hour)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:  8080,
			Host:  "localhost",
			Debug: false,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "codezoo.db",
		},
		Editor: EditorConfig{
			DefaultSplit: "horizontal",
		},
	}
}

// Validate reports configuration errors that would fail at startup anyway.
func (c *Config) Validate() error {
	switch c.Database.GetDriver() {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database: unsupported driver %q", c.Database.Driver)
	}
	for name, tool := range c.Toolchain.Tools {
		switch tool.Type {
		case "exec":
			if tool.Cmd == "" {
				return fmt.Errorf("toolchain %q: cmd is required", name)
			}
		case "wasm":
			if tool.Path == "" {
				return fmt.Errorf("toolchain %q: path is required", name)
			}
		default:
			return fmt.Errorf("toolchain %q: unknown type %q", name, tool.Type)
		}
	}
	return nil
}

// Load loads configuration from a YAML file
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return config, nil
}

// LoadFromDir looks for codezoo.yaml in the given directory.
// If none is found, returns the default configuration
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
