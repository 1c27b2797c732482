package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config is the complete daemon configuration. Values resolve in
// order: built-in defaults, then the YAML config file, then BRV_*
// environment variables.
type Config struct {
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Gate      GateConfig      `yaml:"gate" envconfig:"GATE"`
	Scheduler SchedulerConfig `yaml:"scheduler" envconfig:"SCHEDULER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
}

// LicenseConfig configures the remote license service client.
type LicenseConfig struct {
	BaseURL           string        `yaml:"base_url" envconfig:"BASE_URL" validate:"omitempty,url"`
	APIKey            string        `yaml:"api_key" envconfig:"API_KEY"`
	APISecret         string        `yaml:"api_secret" envconfig:"API_SECRET"`
	AllowInsecureHTTP bool          `yaml:"allow_insecure_http" envconfig:"ALLOW_INSECURE_HTTP"`
	Timeout           time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"min=0"`
	RetryCount        int           `yaml:"retry_count" envconfig:"RETRY_COUNT"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" envconfig:"RETRY_BACKOFF" validate:"min=0"`
	IdempotentWindow  time.Duration `yaml:"idempotent_window" envconfig:"IDEMPOTENT_WINDOW" validate:"min=0"`

	// CredentialsFile points at an optional sealed credentials file.
	// When set and BRV_LICENSE_PASSPHRASE is present, api_key and
	// api_secret come from the sealed file instead of plain settings.
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	Passphrase      string `yaml:"-" envconfig:"PASSPHRASE"`
}

// ServerConfig contains the admin HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" validate:"gt=0"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// GateConfig tunes the entitlement gate middleware.
type GateConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"ENABLED"`

	// ExpiryTolerance is how long past grace_until an EXPIRED license
	// keeps passing the gate and health checks.
	ExpiryTolerance time.Duration `yaml:"expiry_tolerance" envconfig:"EXPIRY_TOLERANCE" validate:"min=0"`

	// AllowedPrefixes are always reachable so an operator can fix a
	// locked deployment.
	AllowedPrefixes []string `yaml:"allowed_prefixes" envconfig:"ALLOWED_PREFIXES"`
}

// SchedulerConfig tunes the background revalidation job.
type SchedulerConfig struct {
	Enabled    bool          `yaml:"enabled" envconfig:"ENABLED"`
	Interval   time.Duration `yaml:"interval" envconfig:"INTERVAL" validate:"gt=0"`
	LockBudget time.Duration `yaml:"lock_budget" envconfig:"LOCK_BUDGET" validate:"gt=0"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=stdout file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PathsConfig contains file system layout configuration. Relative
// entries resolve against the data directory.
type PathsConfig struct {
	DataDir   string `yaml:"data_dir" envconfig:"DATA_DIR"`
	LogsDir   string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
	StateFile string `yaml:"state_file" envconfig:"STATE_FILE"`
	LockFile  string `yaml:"lock_file" envconfig:"LOCK_FILE"`
}

// WebSocketConfig contains event hub transport settings.
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" validate:"gt=0"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" validate:"gt=0"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD" validate:"gt=0"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" validate:"gt=0"`
}

// SecurityConfig contains transport-security settings for the admin
// server.
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"min=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"min=0"`
}

// Load resolves the configuration: defaults, then the config file when
// one exists, then environment variables. A .env file in the working
// directory is honored before the environment is read.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path := configFilePath(); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile is Load with an explicit config file path, for the CLI's
// --config flag. The file must exist.
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return nil, err
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// normalize trims user-supplied strings and lowercases enums so the
// rest of the program never re-cleans them.
func (c *Config) normalize() {
	c.License.BaseURL = strings.TrimSpace(c.License.BaseURL)
	c.License.APIKey = strings.TrimSpace(c.License.APIKey)
	c.License.APISecret = strings.TrimSpace(c.License.APISecret)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Output = strings.ToLower(strings.TrimSpace(c.Logging.Output))
}

// Validate checks structural constraints. Remote-credential
// completeness is deliberately not checked here: a daemon may run
// unconfigured until an operator activates it.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if strings.HasPrefix(c.License.BaseURL, "http://") && !c.License.AllowInsecureHTTP {
		return fmt.Errorf("config validation failed: plain http base_url requires allow_insecure_http")
	}
	return nil
}

// configFilePath locates the config file: the BRV_CONFIG_FILE override
// first, then conventional locations.
func configFilePath() string {
	if env := os.Getenv("BRV_CONFIG_FILE"); env != "" {
		return env
	}
	for _, location := range DefaultConfigLocations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		License: LicenseConfig{
			Timeout:          30 * time.Second,
			RetryCount:       3,
			RetryBackoff:     2 * time.Second,
			IdempotentWindow: 8 * time.Second,
		},
		Server: ServerConfig{
			Port:        8480,
			ReadTimeout: 15 * time.Second,
			// License operations ride out remote retries, so writes get
			// a far longer budget than reads.
			WriteTimeout:    2 * time.Minute,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Gate: GateConfig{
			Enabled:         true,
			ExpiryTolerance: 24 * time.Hour,
			AllowedPrefixes: []string{"/api/license", "/api/healthz", "/api/health", "/api/version", "/metrics"},
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			Interval:   6 * time.Hour,
			LockBudget: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    DefaultLogLevel,
			Format:   DefaultLogFormat,
			Output:   "both",
			FilePath: "logs/brvlicense.log",
		},
		Paths: PathsConfig{
			LogsDir:   DefaultLogsDir,
			StateFile: DefaultStateFileName,
			LockFile:  DefaultLockFileName,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8480"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   10,
			},
		},
	}
}
