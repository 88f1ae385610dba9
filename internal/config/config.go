/*
Package config loads and hot-reloads shardkv's on-disk configuration:
cluster bind/advertise addresses, storage paths, and cache sizing.
*/
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClusterConfig mirrors internal/cluster.Config's file-loadable
// fields (bind/advertise addresses and the handshake identity
// strings).
type ClusterConfig struct {
	BindHost       string   `yaml:"bind_host"`
	Port           uint16   `yaml:"port"`
	ClientPort     uint16   `yaml:"client_port"`
	CanonicalHosts []string `yaml:"canonical_hosts"`
	Version        string   `yaml:"version"`
	ArchBitsize    string   `yaml:"arch_bitsize"`
	BuildMode      string   `yaml:"build_mode"`
}

// CacheConfig mirrors internal/cache.Config.
type CacheConfig struct {
	CleanBlockCapacity   int   `yaml:"clean_block_capacity"`
	MaxConcurrentFlushes int64 `yaml:"max_concurrent_flushes"`
}

// Config is the full on-disk configuration document.
type Config struct {
	DataDir string         `yaml:"data_dir"`
	Cluster ClusterConfig  `yaml:"cluster"`
	Cache   CacheConfig    `yaml:"cache"`
	LogLevel string        `yaml:"log_level"`
}

// Load reads and parses a YAML config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
