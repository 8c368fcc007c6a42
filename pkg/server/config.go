package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// ServerConfig holds the resolved server configuration.
type ServerConfig struct {
	TCPPort            int
	HTTPPort           int // status/metrics/websocket listener; negative disables it
	AttemptsCap        int // consecutive failed password attempts before lockout, [1,5]
	LockoutWindow      time.Duration
	SendTimeout        time.Duration // per-recipient write deadline for pushes
	DataDir            string        // audit logs and archive live here
	CredentialsFile    string
	ArchiveMaxAge      time.Duration // 0 disables archive retention cleanup
	ArchiveEnabled     bool
	PresenceLogName    string
	MessageLogName     string
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPPort:         12000,
		HTTPPort:        12080,
		AttemptsCap:     3,
		LockoutWindow:   10 * time.Second,
		SendTimeout:     2 * time.Second,
		DataDir:         ".",
		CredentialsFile: "credentials.txt",
		ArchiveMaxAge:   7 * 24 * time.Hour,
		ArchiveEnabled:  true,
		PresenceLogName: "userlog.txt",
		MessageLogName:  "messagelog.txt",
	}
}

// Validate reports a fatal configuration error, if any.
func (c ServerConfig) Validate() error {
	if c.TCPPort < 0 || c.TCPPort > 65535 {
		return fmt.Errorf("invalid tcp port %d", c.TCPPort)
	}
	if c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	if c.AttemptsCap < 1 || c.AttemptsCap > 5 {
		return fmt.Errorf("invalid number of allowed failed consecutive attempts: %d (must be 1-5)", c.AttemptsCap)
	}
	if c.LockoutWindow <= 0 {
		return fmt.Errorf("lockout window must be positive")
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("send timeout must be positive")
	}
	return nil
}

// TOMLConfig is the on-disk shape of the config file.
type TOMLConfig struct {
	Server    ServerSection    `toml:"server"`
	Auth      AuthSection      `toml:"auth"`
	Limits    LimitsSection    `toml:"limits"`
	Retention RetentionSection `toml:"retention"`
}

type ServerSection struct {
	TCPPort         int    `toml:"tcp_port"`
	HTTPPort        int    `toml:"http_port"`
	DataDir         string `toml:"data_dir"`
	CredentialsFile string `toml:"credentials_file"`
}

type AuthSection struct {
	AttemptsCap          int `toml:"attempts_cap"`
	LockoutWindowSeconds int `toml:"lockout_window_seconds"`
}

type LimitsSection struct {
	SendTimeoutSeconds int `toml:"send_timeout_seconds"`
}

type RetentionSection struct {
	ArchiveEnabled     bool `toml:"archive_enabled"`
	ArchiveMaxAgeHours int  `toml:"archive_max_age_hours"`
}

// EnvOverrides are environment variables (TESSENGER_ prefix) that take
// precedence over the config file. Zero values mean "not set".
type EnvOverrides struct {
	TCPPort         int    `envconfig:"TCP_PORT"`
	HTTPPort        int    `envconfig:"HTTP_PORT"`
	AttemptsCap     int    `envconfig:"ATTEMPTS_CAP"`
	DataDir         string `envconfig:"DATA_DIR"`
	CredentialsFile string `envconfig:"CREDENTIALS_FILE"`
}

// DefaultTOMLConfig returns the default config file contents.
func DefaultTOMLConfig() TOMLConfig {
	def := DefaultConfig()
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:         def.TCPPort,
			HTTPPort:        def.HTTPPort,
			DataDir:         def.DataDir,
			CredentialsFile: def.CredentialsFile,
		},
		Auth: AuthSection{
			AttemptsCap:          def.AttemptsCap,
			LockoutWindowSeconds: int(def.LockoutWindow / time.Second),
		},
		Limits: LimitsSection{
			SendTimeoutSeconds: int(def.SendTimeout / time.Second),
		},
		Retention: RetentionSection{
			ArchiveEnabled:     def.ArchiveEnabled,
			ArchiveMaxAgeHours: int(def.ArchiveMaxAge / time.Hour),
		},
	}
}

// LoadConfig loads the TOML config from path, creating a default file when
// none exists, then applies TESSENGER_* environment overrides.
func LoadConfig(path string) (ServerConfig, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ServerConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	fileCfg := DefaultTOMLConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Missing file is fine; write the defaults for next time, ignoring
		// write failures (read-only locations can still run on defaults).
		writeDefaultConfig(path, fileCfg)
	} else {
		if _, err := toml.DecodeFile(path, &fileCfg); err != nil {
			return ServerConfig{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg := fileCfg.ToServerConfig()

	var env EnvOverrides
	if err := envconfig.Process("tessenger", &env); err != nil {
		return ServerConfig{}, fmt.Errorf("failed to read environment overrides: %w", err)
	}
	cfg.applyEnv(env)

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func writeDefaultConfig(path string, cfg TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := `# Tessenger Server Configuration
# This file was auto-generated with default values.

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}
	return toml.NewEncoder(f).Encode(cfg)
}

// ToServerConfig converts the file config to a ServerConfig, falling back to
// defaults for unset fields.
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}
	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}
	if strings.TrimSpace(c.Server.DataDir) != "" {
		cfg.DataDir = c.Server.DataDir
	}
	if strings.TrimSpace(c.Server.CredentialsFile) != "" {
		cfg.CredentialsFile = c.Server.CredentialsFile
	}
	if c.Auth.AttemptsCap != 0 {
		cfg.AttemptsCap = c.Auth.AttemptsCap
	}
	if c.Auth.LockoutWindowSeconds != 0 {
		cfg.LockoutWindow = time.Duration(c.Auth.LockoutWindowSeconds) * time.Second
	}
	if c.Limits.SendTimeoutSeconds != 0 {
		cfg.SendTimeout = time.Duration(c.Limits.SendTimeoutSeconds) * time.Second
	}
	cfg.ArchiveEnabled = c.Retention.ArchiveEnabled
	if c.Retention.ArchiveMaxAgeHours != 0 {
		cfg.ArchiveMaxAge = time.Duration(c.Retention.ArchiveMaxAgeHours) * time.Hour
	}

	return cfg
}

func (c *ServerConfig) applyEnv(env EnvOverrides) {
	if env.TCPPort != 0 {
		c.TCPPort = env.TCPPort
	}
	if env.HTTPPort != 0 {
		c.HTTPPort = env.HTTPPort
	}
	if env.AttemptsCap != 0 {
		c.AttemptsCap = env.AttemptsCap
	}
	if env.DataDir != "" {
		c.DataDir = env.DataDir
	}
	if env.CredentialsFile != "" {
		c.CredentialsFile = env.CredentialsFile
	}
}
