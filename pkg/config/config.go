// Package config provides the unified loader for storage node configuration
// files and environment variables.  It mirrors the YAML files under
// cmd/config and is versioned so applications can depend on a stable
// contract.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/storj-archived/core-sub000/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the full node configuration.
type Config struct {
	Node struct {
		PrivateKey     string `mapstructure:"private_key" yaml:"private_key" json:"private_key"`
		HDKey          string `mapstructure:"hd_key" yaml:"hd_key" json:"hd_key"`
		HDIndex        uint32 `mapstructure:"hd_index" yaml:"hd_index" json:"hd_index"`
		Address        string `mapstructure:"address" yaml:"address" json:"address"`
		Port           int    `mapstructure:"port" yaml:"port" json:"port"`
		PaymentAddress string `mapstructure:"payment_address" yaml:"payment_address" json:"payment_address"`
	} `mapstructure:"node" yaml:"node" json:"node"`

	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" yaml:"listen_addr" json:"listen_addr"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" yaml:"bootstrap_peers" json:"bootstrap_peers"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" yaml:"discovery_tag" json:"discovery_tag"`
	} `mapstructure:"network" yaml:"network" json:"network"`

	Storage struct {
		DataDir    string `mapstructure:"data_dir" yaml:"data_dir" json:"data_dir"`
		MaxSpaceGB int64  `mapstructure:"max_space_gb" yaml:"max_space_gb" json:"max_space_gb"`
	} `mapstructure:"storage" yaml:"storage" json:"storage"`

	Shards struct {
		ServerAddr   string        `mapstructure:"server_addr" yaml:"server_addr" json:"server_addr"`
		TokenTTL     time.Duration `mapstructure:"token_ttl" yaml:"token_ttl" json:"token_ttl"`
		RateLimit    int           `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	} `mapstructure:"shards" yaml:"shards" json:"shards"`

	Contracts struct {
		MaxOffers        int           `mapstructure:"max_offers" yaml:"max_offers" json:"max_offers"`
		ConsignThreshold time.Duration `mapstructure:"consign_threshold" yaml:"consign_threshold" json:"consign_threshold"`
	} `mapstructure:"contracts" yaml:"contracts" json:"contracts"`

	API struct {
		Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
		Addr    string `mapstructure:"addr" yaml:"addr" json:"addr"`
	} `mapstructure:"api" yaml:"api" json:"api"`

	Logging struct {
		Level string `mapstructure:"level" yaml:"level" json:"level"`
		File  string `mapstructure:"file" yaml:"file" json:"file"`
	} `mapstructure:"logging" yaml:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	cfg.Node.Address = "127.0.0.1"
	cfg.Node.Port = 4000
	cfg.Network.ListenAddr = "/ip4/0.0.0.0/tcp/4001"
	cfg.Network.DiscoveryTag = "stord-local"
	cfg.Storage.DataDir = "data"
	cfg.Storage.MaxSpaceGB = 8
	cfg.Shards.ServerAddr = ":4000"
	cfg.Shards.TokenTTL = 2 * time.Minute
	cfg.Shards.RateLimit = 64
	cfg.Contracts.MaxOffers = 24
	cfg.Contracts.ConsignThreshold = 24 * time.Hour
	cfg.API.Addr = ":4010"
	cfg.Logging.Level = "info"
	return cfg
}

// Load reads the default configuration file plus an optional environment
// overlay, applies environment variable overrides and stores the result in
// AppConfig.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	AppConfig = Default()
	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the STORD_ENV environment variable
// to select the overlay.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("STORD_ENV", ""))
}

// LoadFile reads one specific YAML file, skipping the search paths.
func LoadFile(path string) (*Config, error) {
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config file")
	}
	AppConfig = Default()
	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// WriteDefault renders the built-in configuration as YAML at path, refusing
// to clobber an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	cfg := Default()
	raw, err := yaml.Marshal(&cfg)
	if err != nil {
		return utils.Wrap(err, "encode default config")
	}
	return os.WriteFile(path, raw, 0o644)
}
