package config

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

const DefaultRemoteName = "origin"

// RemoteConfig - the peer repository a replica reconciles with
type RemoteConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Config for a crypticdb replica
type Config struct {
	Root           string       `yaml:"root"`            // Replica root directory
	SiteID         uint64       `yaml:"site_id"`         // Unique per replica
	PassphraseFile string       `yaml:"passphrase_file"` // File holding the shared secret
	Remote         RemoteConfig `yaml:"remote"`
}

// Unmarshal the config
func Unmarshal(config []byte) (*Config, error) {
	// Default values specified here
	cfg := &Config{
		Root:   ".",
		Remote: RemoteConfig{Name: DefaultRemoteName},
	}
	err := yaml.Unmarshal(config, cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters", err.Error())
	}
	err = cfg.validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile - loads config file
func LoadConfigFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

// LoadConfigString - loads a string
func LoadConfigString(content []byte) (*Config, error) {
	cfg, err := Unmarshal(content)
	return cfg, err
}

// Passphrase - read the shared secret, trimming a trailing newline
func (c *Config) Passphrase() ([]byte, error) {
	if c.PassphraseFile == "" {
		return nil, fmt.Errorf("passphrase_file is not set")
	}
	content, err := os.ReadFile(c.PassphraseFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %v", err.Error())
	}
	pass := strings.TrimRight(string(content), "\r\n")
	if pass == "" {
		return nil, fmt.Errorf("passphrase file %v is empty", c.PassphraseFile)
	}
	return []byte(pass), nil
}

func (c *Config) validate() error {
	if c.SiteID == 0 {
		return fmt.Errorf("site_id must be set to a non-zero value unique to this replica")
	}
	if c.Remote.URL != "" && c.Remote.Name == "" {
		return fmt.Errorf("remote.name must be set when remote.url is configured")
	}
	if (c.Remote.User == "") != (c.Remote.Password == "") {
		return fmt.Errorf("remote.user and remote.password must be set together")
	}
	return nil
}
