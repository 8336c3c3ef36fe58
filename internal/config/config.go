package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Client holds all configuration for the messaging client.
type Client struct {
	// State files
	DataDir string `yaml:"data_dir"`
	Binlog  string `yaml:"binlog"` // relative to DataDir unless absolute

	// Server trust anchors
	ServerKeyFile string `yaml:"server_key_file"` // PEM, may hold several keys

	// Seed datacenters, overridden by binlog state once known
	DCs       []DCEntry `yaml:"dcs"`
	DefaultDC int32     `yaml:"default_dc"`

	// Network
	ConnectTimeout int `yaml:"connect_timeout"` // seconds
	QueryTimeout   int `yaml:"query_timeout"`   // seconds
	PingInterval   int `yaml:"ping_interval"`   // seconds

	// Reconnect backoff bounds
	ReconnectMinDelay int `yaml:"reconnect_min_delay"` // ms
	ReconnectMaxDelay int `yaml:"reconnect_max_delay"` // seconds

	Verbose bool `yaml:"verbose"`
}

// DCEntry is a seed datacenter address.
type DCEntry struct {
	ID   int32  `yaml:"id"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// BinlogPath resolves the binlog location against DataDir.
func (c Client) BinlogPath() string {
	if filepath.IsAbs(c.Binlog) {
		return c.Binlog
	}
	return filepath.Join(c.DataDir, c.Binlog)
}

// KeyPath resolves the server key file against DataDir.
func (c Client) KeyPath() string {
	if filepath.IsAbs(c.ServerKeyFile) {
		return c.ServerKeyFile
	}
	return filepath.Join(c.DataDir, c.ServerKeyFile)
}

// DefaultClient returns Client config with sensible defaults.
func DefaultClient() Client {
	return Client{
		DataDir:           ".mtgo",
		Binlog:            "binlog",
		ServerKeyFile:     "server.pub",
		DefaultDC:         2,
		ConnectTimeout:    10,
		QueryTimeout:      30,
		PingInterval:      45,
		ReconnectMinDelay: 500,
		ReconnectMaxDelay: 60,
		DCs: []DCEntry{
			{ID: 1, Host: "149.154.175.50", Port: 443},
			{ID: 2, Host: "149.154.167.51", Port: 443},
			{ID: 3, Host: "149.154.175.100", Port: 443},
		},
	}
}

// LoadClient loads client config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
