package client

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration file (sitebox.yaml).
type Config struct {
	APIURL     string `yaml:"api_url"`
	Token      string `yaml:"token"`
	Site       string `yaml:"site"`
	PostDeploy string `yaml:"post_deploy"`
}

// DefaultConfigPaths returns standard config search paths.
// Search order:
// 1. Current directory (./sitebox.yaml)
// 2. User config directory (~/.config/sitebox/sitebox.yaml)
// 3. System-wide config (/etc/sitebox/sitebox.yaml)
func DefaultConfigPaths() []string {
	paths := []string{filepath.Join(".", "sitebox.yaml")}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sitebox", "sitebox.yaml"))
	}
	paths = append(paths, filepath.Join("/etc/sitebox", "sitebox.yaml"))
	return paths
}

// FindConfig returns the first existing config path, or empty string.
func FindConfig() string {
	for _, path := range DefaultConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// LoadConfig reads and parses a CLI config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return &cfg, nil
}
