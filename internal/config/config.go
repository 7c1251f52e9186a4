package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for ftrack. The server and the
// agent read the same file and use the sections that concern them.
type Config struct {
	DeviceID   string           `toml:"device_id"`
	Username   string           `toml:"username"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Server     ServerConfig     `toml:"server"`
	Client     ClientConfig     `toml:"client"`
	Agent      AgentConfig      `toml:"agent"`
	Database   DatabaseConfig   `toml:"database"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
	Captioning CaptioningConfig `toml:"captioning"`
	Logging    LoggingConfig    `toml:"logging"`
}

// Duration is a time.Duration written as a Go duration string ("5m", "1s").
type Duration struct {
	time.Duration
}

// Dur wraps d.
func Dur(d time.Duration) Duration { return Duration{d} }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// ServerConfig configures the catalog server.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	Token           string   `toml:"token,omitempty"`
	MaxBodyBytes    int64    `toml:"max_body_bytes"`
	TaskLease       Duration `toml:"task_lease"`
	MaxTaskAttempts int      `toml:"max_task_attempts"`
}

// ClientConfig configures how the agent and CLI reach the server.
type ClientConfig struct {
	ServerURL string   `toml:"server_url"`
	Token     string   `toml:"token,omitempty"`
	Timeout   Duration `toml:"timeout"`
}

// AgentConfig configures the watcher, reporter and task runner.
type AgentConfig struct {
	Roots          []string `toml:"roots"`
	TrashDirs      []string `toml:"trash_dirs"`
	ExcludedDirs   []string `toml:"excluded_dirs,omitempty"`
	ExcludedTypes  []string `toml:"excluded_types,omitempty"`
	SettleDelay    Duration `toml:"settle_delay"`
	PollInterval   Duration `toml:"poll_interval"`
	RescanInterval Duration `toml:"rescan_interval"`
	Workers        int      `toml:"workers"`
	QueueSize      int      `toml:"queue_size"`
}

// DatabaseConfig represents configuration for the catalog database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "postgres"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", "s3" or "minio"
	Name string `toml:"name"`

	// Object store fields (Type == "s3" or "minio")
	Bucket    string `toml:"bucket,omitempty"`
	Prefix    string `toml:"prefix,omitempty"`
	Region    string `toml:"region,omitempty"`
	Endpoint  string `toml:"endpoint,omitempty"`
	AccessKey string `toml:"access_key,omitempty"`
	SecretKey string `toml:"secret_key,omitempty"`
	PathStyle bool   `toml:"path_style,omitempty"`
	UseSSL    bool   `toml:"use_ssl,omitempty"`

	// Filesystem fields (Type == "filesystem")
	Root string `toml:"root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for archives.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// CaptioningConfig selects the image captioning backend used by the server.
type CaptioningConfig struct {
	Type      string `toml:"type"` // "anthropic", "static" or "none"
	APIKeyEnv string `toml:"api_key_env,omitempty"`
	Model     string `toml:"model,omitempty"`
	MaxTokens int64  `toml:"max_tokens,omitempty"`
	Workers   int    `toml:"workers"`
	QueueSize int    `toml:"queue_size"`
}

// LoggingConfig controls the level and rotation of the log file.
type LoggingConfig struct {
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// NewConfig creates a Config with defaults for a device and user.
func NewConfig(deviceID, username, baseDir string) *Config {
	cfg := &Config{
		DeviceID: deviceID,
		Username: username,
		BaseDir:  baseDir,
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Vaults: []VaultConfig{{
			Type: "filesystem",
			Name: "local",
			Root: filepath.Join(baseDir, "vault"),
		}},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "ftrack.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "ftrack.key"),
		},
		Captioning: CaptioningConfig{Type: "none"},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset value with its default.
func (c *Config) ApplyDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}

	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8750"
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 10 << 20
	}
	if c.Server.TaskLease.Duration <= 0 {
		c.Server.TaskLease = Dur(5 * time.Minute)
	}
	if c.Server.MaxTaskAttempts <= 0 {
		c.Server.MaxTaskAttempts = 5
	}

	if c.Client.ServerURL == "" {
		c.Client.ServerURL = "http://" + c.Server.Addr
	}
	if c.Client.Timeout.Duration <= 0 {
		c.Client.Timeout = Dur(5 * time.Second)
	}

	if c.Agent.SettleDelay.Duration <= 0 {
		c.Agent.SettleDelay = Dur(time.Second)
	}
	if c.Agent.PollInterval.Duration <= 0 {
		c.Agent.PollInterval = Dur(10 * time.Second)
	}
	if c.Agent.RescanInterval.Duration <= 0 {
		c.Agent.RescanInterval = Dur(10 * time.Minute)
	}
	if c.Agent.Workers <= 0 {
		c.Agent.Workers = 4
	}
	if c.Agent.QueueSize <= 0 {
		c.Agent.QueueSize = 256
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "age"
	}

	if c.Captioning.Type == "" {
		c.Captioning.Type = "none"
	}
	if c.Captioning.APIKeyEnv == "" {
		c.Captioning.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.Captioning.Model == "" {
		c.Captioning.Model = "claude-sonnet-4-5"
	}
	if c.Captioning.MaxTokens <= 0 {
		c.Captioning.MaxTokens = 256
	}
	if c.Captioning.Workers <= 0 {
		c.Captioning.Workers = 2
	}
	if c.Captioning.QueueSize <= 0 {
		c.Captioning.QueueSize = 64
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 30
	}
}

// Validate reports every inconsistency in the config.
func (c *Config) Validate() error {
	var errs []error
	if c.DeviceID == "" {
		errs = append(errs, errors.New("device_id is required"))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.LogDir == "" {
		errs = append(errs, errors.New("log_dir is required"))
	}

	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			errs = append(errs, errors.New("database: sqlite requires data_dir"))
		}
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database: postgres requires dsn"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("database: unknown type %q", c.Database.Type))
	}

	for i, v := range c.Vaults {
		switch v.Type {
		case "memory":
		case "filesystem":
			if v.Root == "" {
				errs = append(errs, fmt.Errorf("vaults[%d]: filesystem requires root", i))
			}
		case "s3", "minio":
			if v.Bucket == "" {
				errs = append(errs, fmt.Errorf("vaults[%d]: %s requires bucket", i, v.Type))
			}
			if v.Type == "minio" && v.Endpoint == "" {
				errs = append(errs, fmt.Errorf("vaults[%d]: minio requires endpoint", i))
			}
		default:
			errs = append(errs, fmt.Errorf("vaults[%d]: unknown type %q", i, v.Type))
		}
	}

	switch c.Encryption.Type {
	case "age", "test":
	default:
		errs = append(errs, fmt.Errorf("encryption: unknown type %q", c.Encryption.Type))
	}

	switch c.Captioning.Type {
	case "anthropic", "static", "none":
	default:
		errs = append(errs, fmt.Errorf("captioning: unknown type %q", c.Captioning.Type))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging: unknown level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// ApplyEnv overlays secrets that may be kept out of the file.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if token := getenv("FTRACK_SERVER_TOKEN"); token != "" {
		c.Server.Token = token
		c.Client.Token = token
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and applies defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file may hold a server token.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes a new config file. It refuses to overwrite an existing one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
