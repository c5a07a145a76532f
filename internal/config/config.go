package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the ambient settings shared by both commands
type Config struct {
	// DRM processor helper command line, split on whitespace
	ProcessorCommand string `mapstructure:"processor-command"`

	// Directory for FSM run state; empty means a per-run temporary directory
	StateDir string `mapstructure:"state-dir"`

	// SQLite ledger of activations and fulfillments; empty disables it
	LedgerPath string `mapstructure:"ledger-path"`

	// S3 mirror of produced artifacts; empty bucket disables it
	S3Bucket string `mapstructure:"s3-bucket"`
	S3Region string `mapstructure:"s3-region"`
	S3Prefix string `mapstructure:"s3-prefix"`

	// Echo '*' for each password character typed
	MaskPassword bool `mapstructure:"mask-password"`
}

// Defaults
const (
	DefaultProcessorCommand = "gourou-helper"
	DefaultS3Region         = "us-east-1"
)

// Load reads configuration from environment, config file, and defaults.
// Flags bound to v take precedence.
func Load(v *viper.Viper) (*Config, error) {
	// Set defaults
	v.SetDefault("processor-command", DefaultProcessorCommand)
	v.SetDefault("state-dir", "")
	v.SetDefault("ledger-path", "")
	v.SetDefault("s3-bucket", "")
	v.SetDefault("s3-region", DefaultS3Region)
	v.SetDefault("s3-prefix", "")
	v.SetDefault("mask-password", false)

	// Environment variables (will be ADEPT_LEDGER_PATH, etc.)
	v.SetEnvPrefix("ADEPT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	v.SetConfigName("knocker")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/knocker")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ProcessorArgv splits ProcessorCommand into a program and its arguments
func (c *Config) ProcessorArgv() []string {
	return strings.Fields(c.ProcessorCommand)
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if len(c.ProcessorArgv()) == 0 {
		return fmt.Errorf("processor-command cannot be empty")
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return fmt.Errorf("s3-region cannot be empty when s3-bucket is set")
	}
	if c.S3Prefix != "" && c.S3Bucket == "" {
		return fmt.Errorf("s3-prefix requires s3-bucket")
	}
	return nil
}
