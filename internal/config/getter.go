package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const prefix = "VMMONITOR"

var conf Config

// Parse reads the configuration file given as parameter.
func Parse(confFile string) (*Config, error) {
	setDefault()

	viper.SetEnvPrefix(prefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	if len(confFile) > 0 {
		viper.SetConfigFile(confFile)

		err := viper.ReadInConfig()
		if err != nil {
			return &conf, fmt.Errorf("failed to read config file %v: %w", confFile, err)
		}
	}

	err := viper.Unmarshal(&conf)
	if err != nil {
		return &conf, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	err = validate(&conf)
	if err != nil {
		return &conf, fmt.Errorf("invalid config: %w", err)
	}

	return &conf, nil
}

// Get returns the configuration parsed by Parse.
// Passwords and sensitive information are hidden by implementing Stringer.
func Get() *Config {
	return &conf
}

func setDefault() {
	viper.SetDefault("logs.level", 4)
	viper.SetDefault("logs.encoder", EncoderTypeConsole)
	viper.SetDefault("checkInterval", "60s")
	viper.SetDefault("eventCheckWindow", "1m")
	viper.SetDefault("eventID", 2004)
	viper.SetDefault("maxConcurrentChecks", 5)
	viper.SetDefault("dryRun", false)
	viper.SetDefault("captureDir", "capture")
	viper.SetDefault("logs.file", "")
	viper.SetDefault("guest.username", "")
	viper.SetDefault("guest.password", "")
	viper.SetDefault("history.valkey.url", "")
	viper.SetDefault("vmrun.path", "")
	viper.SetDefault("metrics.port", 7777)
	viper.SetDefault("restart.timeThreshold", "2m")
	viper.SetDefault("restart.maxRetries", 3)
	viper.SetDefault("restart.retryDelay", "10s")
	viper.SetDefault("restart.delay", "5s")
	viper.SetDefault("restart.lockCleanupDelay", "15s")
	viper.SetDefault("restart.extendedStartWait", "15s")
	viper.SetDefault("vmrun.timeout", "30s")
}

func validate(c *Config) error {
	if c.CheckInterval < 10*time.Second {
		return fmt.Errorf("checkInterval must be at least 10s, got %v", c.CheckInterval)
	}

	if c.EventCheckWindow <= 0 {
		return fmt.Errorf("eventCheckWindow must be positive, got %v", c.EventCheckWindow)
	}

	if c.MaxConcurrentChecks < 1 {
		return fmt.Errorf("maxConcurrentChecks must be at least 1, got %v", c.MaxConcurrentChecks)
	}

	if c.Restart.MaxRetries < 1 {
		return fmt.Errorf("restart.maxRetries must be at least 1, got %v", c.Restart.MaxRetries)
	}

	return nil
}
