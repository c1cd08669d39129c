package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// Config represents the top-level YAML configuration file.
type Config struct {
	AppVersion string          `mapstructure:"app_version" yaml:"app_version,omitempty"`
	Backup     BackupConfig    `mapstructure:"backup"      yaml:"backup"`
	Retention  RetentionConfig `mapstructure:"retention"   yaml:"retention"`
	Database   DatabaseConfig  `mapstructure:"database"    yaml:"database"`
	Trees      TreesConfig     `mapstructure:"trees"       yaml:"trees"`
	Vault      VaultConfig     `mapstructure:"vault"       yaml:"vault"`
}

// BackupConfig contains global backup options.
type BackupConfig struct {
	StoreDirectory string        `mapstructure:"store_directory" yaml:"store_directory"`
	ScheduledTime  string        `mapstructure:"scheduled_time"  yaml:"scheduled_time,omitempty"`
	IncludeLogs    bool          `mapstructure:"include_logs"    yaml:"include_logs,omitempty"`
	Timeout        time.Duration `mapstructure:"timeout"         yaml:"timeout,omitempty"`
	LockWait       bool          `mapstructure:"lock_wait"       yaml:"lock_wait,omitempty"`
}

// RetentionConfig bounds how many artifacts are kept in the store.
type RetentionConfig struct {
	MaxArtifacts int `mapstructure:"max_artifacts" yaml:"max_artifacts"`
}

// DatabaseConfig selects the snapshot dialect and how to reach the database.
// Path is used by the embedded sqlite dialect, DSN by the client/server ones.
type DatabaseConfig struct {
	Dialect string `mapstructure:"dialect" yaml:"dialect"`
	Path    string `mapstructure:"path"    yaml:"path,omitempty"`
	DSN     string `mapstructure:"dsn"     yaml:"dsn,omitempty"`
}

// TreesConfig names the live auxiliary directories bundled into every artifact.
type TreesConfig struct {
	Uploads string `mapstructure:"uploads" yaml:"uploads,omitempty"`
	Config  string `mapstructure:"config"  yaml:"config,omitempty"`
	Logs    string `mapstructure:"logs"    yaml:"logs,omitempty"`
}

// VaultConfig holds connection settings for HashiCorp Vault. When Address is
// empty, credentials are taken from the DSN instead.
type VaultConfig struct {
	Address  string `mapstructure:"address"   yaml:"address,omitempty"`
	RoleID   string `mapstructure:"role_id"   yaml:"role_id,omitempty"`
	RoleName string `mapstructure:"role_name" yaml:"role_name,omitempty"`
	RolePath string `mapstructure:"role_path" yaml:"role_path,omitempty"`
}

const (
	DefaultTimeout      = 15 * time.Minute
	DefaultMaxArtifacts = 7
)

// Load reads the configuration from the given YAML file using Viper and
// unmarshals it into the Config struct.
func (c *Config) Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrLoadConfig, path, err)
	}
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	c.setDefaults()
	return c.Validate()
}

func (c *Config) setDefaults() {
	if c.Backup.Timeout <= 0 {
		c.Backup.Timeout = DefaultTimeout
	}
	if c.Retention.MaxArtifacts == 0 {
		c.Retention.MaxArtifacts = DefaultMaxArtifacts
	}
}

// Validate checks the invariants the backup engine relies on.
func (c *Config) Validate() error {
	if c.Backup.StoreDirectory == "" {
		return fmt.Errorf("%w: backup.store_directory is required", ErrValidateConfig)
	}
	if c.Retention.MaxArtifacts < 1 {
		return fmt.Errorf("%w: retention.max_artifacts must be >= 1, got %d",
			ErrValidateConfig, c.Retention.MaxArtifacts)
	}
	switch c.Database.Dialect {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("%w: database.path is required for the sqlite dialect", ErrValidateConfig)
		}
	case "postgres", "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn is required for the %s dialect",
				ErrValidateConfig, c.Database.Dialect)
		}
	case "":
		return fmt.Errorf("%w: database.dialect is required", ErrValidateConfig)
	default:
		return fmt.Errorf("%w: unknown database.dialect %q", ErrValidateConfig, c.Database.Dialect)
	}
	return nil
}
