package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config represents the node configuration
type Config struct {
	Node    NodeConfig    `mapstructure:"node"`
	Cluster ClusterConfig `mapstructure:"cluster"`
	Storage StorageConfig `mapstructure:"storage"`
}

// NodeConfig contains the identity and timer knobs of this node
type NodeConfig struct {
	ID              string `mapstructure:"id"`
	BindAddr        string `mapstructure:"bind_addr"`
	BroadcastTimeMs int    `mapstructure:"broadcast_time_ms"`
	SyncIntervalMs  int    `mapstructure:"sync_interval_ms"`
}

// PeerConfig names one cluster member and its address
type PeerConfig struct {
	ID   string `mapstructure:"id"`
	Addr string `mapstructure:"addr"`
}

// ClusterConfig contains the group membership
type ClusterConfig struct {
	Peers []PeerConfig `mapstructure:"peers"`
}

// StorageConfig contains the log store configuration
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// BroadcastTime returns the configured broadcast time as a duration.
func (c *Config) BroadcastTime() time.Duration {
	return time.Duration(c.Node.BroadcastTimeMs) * time.Millisecond
}

// SyncInterval returns the configured sync interval as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Node.SyncIntervalMs) * time.Millisecond
}

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ra")
	}

	setDefaults(v)

	// Read environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("RA")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("node.id", "")
	v.SetDefault("node.bind_addr", "localhost:7071")
	v.SetDefault("node.broadcast_time_ms", 100)
	v.SetDefault("node.sync_interval_ms", 10)

	v.SetDefault("cluster.peers", []PeerConfig{})

	v.SetDefault("storage.data_dir", "./data")
}

// validateConfig validates the configuration and fills computed values
func validateConfig(config *Config) error {
	if config.Node.ID == "" {
		// A generated identity keeps single-node experiments zero-config.
		config.Node.ID = uuid.New().String()
	}

	if config.Node.BroadcastTimeMs <= 0 {
		return fmt.Errorf("node.broadcast_time_ms must be positive")
	}
	if config.Node.SyncIntervalMs <= 0 {
		return fmt.Errorf("node.sync_interval_ms must be positive")
	}

	config.Storage.DataDir = filepath.Clean(config.Storage.DataDir)

	seen := make(map[string]bool, len(config.Cluster.Peers))
	for _, peer := range config.Cluster.Peers {
		if peer.ID == "" || peer.Addr == "" {
			return fmt.Errorf("cluster.peers entries need both id and addr")
		}
		if seen[peer.ID] {
			return fmt.Errorf("duplicate cluster peer id %q", peer.ID)
		}
		seen[peer.ID] = true
	}

	return nil
}
