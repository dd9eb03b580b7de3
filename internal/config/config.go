package config

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// CryptoConfig represents key-derivation configuration
type CryptoConfig struct {
	Iterations int    `json:"iterations" mapstructure:"iterations"`
	SaltLength int    `json:"salt_length" mapstructure:"salt_length"`
	Cipher     string `json:"cipher" mapstructure:"cipher"` // registered factory name
}

// OutputConfig represents default output naming
type OutputConfig struct {
	EncryptSuffix string `json:"encrypt_suffix" mapstructure:"encrypt_suffix"`
	DecryptSuffix string `json:"decrypt_suffix" mapstructure:"decrypt_suffix"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // console, json
}

// Config represents the main configuration
type Config struct {
	Crypto  CryptoConfig `json:"crypto" mapstructure:"crypto"`
	Output  OutputConfig `json:"output" mapstructure:"output"`
	Log     LogConfig    `json:"log" mapstructure:"log"`
	DataDir string       `json:"data_dir" mapstructure:"data_dir"`
}

var (
	cfg  *Config
	once sync.Once
)

func Load() *Config {
	once.Do(func() {
		viper.SetConfigName("config")
		viper.SetConfigType("json")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.securecrypt")

		// Crypto defaults
		viper.SetDefault("crypto.iterations", 10000)
		viper.SetDefault("crypto.salt_length", 16)
		viper.SetDefault("crypto.cipher", "")

		// Output defaults
		viper.SetDefault("output.encrypt_suffix", ".secure")
		viper.SetDefault("output.decrypt_suffix", ".txt")

		// Log defaults
		viper.SetDefault("log.level", "info")
		viper.SetDefault("log.format", "console")

		viper.SetDefault("data_dir", "./data")

		// Environment variables
		viper.SetEnvPrefix("SECURECRYPT")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				log.Debug().Msg("Config file not found, using defaults")
			} else {
				log.Error().Err(err).Msg("Error reading config file")
			}
		}

		cfg = &Config{}
		if err := viper.Unmarshal(cfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to unmarshal config")
		}
	})
	return cfg
}

func Get() *Config {
	if cfg == nil {
		return Load()
	}
	return cfg
}
