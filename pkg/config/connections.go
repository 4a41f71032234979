package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Connection defaults.
const (
	DefaultPort         = 8006
	DefaultScanInterval = 20
	DefaultIPMode       = "prefer_192168"
	DefaultIPPrefix     = "192.168."
)

// ConnectionsFile is the parsed connections file.
type ConnectionsFile struct {
	Connections []ConnectionConfig `yaml:"connections"`
}

// ConnectionConfig describes one cluster connection.
type ConnectionConfig struct {
	ID         string        `yaml:"id"`
	Name       string        `yaml:"name"`
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	VerifySSL  *bool         `yaml:"verify_ssl"`
	TokenName  string        `yaml:"token_name"`
	TokenValue string        `yaml:"token_value"`
	Options    OptionsConfig `yaml:"options"`
}

// OptionsConfig holds the live options of a connection.
type OptionsConfig struct {
	// ScanInterval is the poll interval in seconds.
	ScanInterval int    `yaml:"scan_interval"`
	IPMode       string `yaml:"ip_mode"`
	IPPrefix     string `yaml:"ip_prefix"`
}

// VerifiesSSL reports whether the cluster certificate is verified. Defaults
// to true.
func (c ConnectionConfig) VerifiesSSL() bool {
	return c.VerifySSL == nil || *c.VerifySSL
}

// LoadConnections reads and parses the connections file.
func LoadConnections(path string) (*ConnectionsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read connections file: %w", err)
	}
	return ParseConnections(data)
}

// ParseConnections parses connections YAML, applies defaults and validates
// the result. Connections without an id get a generated one.
func ParseConnections(data []byte) (*ConnectionsFile, error) {
	var file ConnectionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Connections))
	for i := range file.Connections {
		c := &file.Connections[i]
		c.applyDefaults()
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("connection %d: %w", i, err)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("connection %d: duplicate id %q", i, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return &file, nil
}

func (c *ConnectionConfig) applyDefaults() {
	c.Host = strings.TrimSpace(c.Host)
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Name == "" {
		c.Name = c.Host
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Options.ScanInterval == 0 {
		c.Options.ScanInterval = DefaultScanInterval
	}
	if c.Options.IPMode == "" {
		c.Options.IPMode = DefaultIPMode
	}
	if c.Options.IPPrefix == "" {
		c.Options.IPPrefix = DefaultIPPrefix
	}
}

// Validate checks that the connection can be dialed.
func (c ConnectionConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.TokenName == "" {
		return fmt.Errorf("token_name is required")
	}
	if c.TokenValue == "" {
		return fmt.Errorf("token_value is required")
	}
	return nil
}
