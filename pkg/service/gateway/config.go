package gateway

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"gopkg.in/yaml.v3"
)

// Config represents the MCP server configuration file
type Config struct {
	Servers []ServerConfig `yaml:"servers"`
}

// UsesAuth reports whether any configured server needs a bearer token
func (c *Config) UsesAuth() bool {
	for _, s := range c.Servers {
		if s.usesAuth() {
			return true
		}
	}
	return false
}

// LoadConfig reads a YAML configuration file
func LoadConfig(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve config path", goerr.V("path", path))
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read MCP config file", goerr.V("path", absPath))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse MCP config file", goerr.V("path", absPath))
	}

	seen := make(map[string]struct{}, len(cfg.Servers))
	for i, s := range cfg.Servers {
		if s.Name == "" {
			return nil, goerr.New("server name is required", goerr.V("index", i))
		}
		if _, dup := seen[s.Name]; dup {
			return nil, goerr.New("duplicated server name", goerr.V("name", s.Name))
		}
		seen[s.Name] = struct{}{}
	}

	return &cfg, nil
}

// ConnectAll connects every configured server. Servers that fail are logged and skipped;
// an error is returned only when none could be connected.
func ConnectAll(ctx context.Context, client *Client, cfg *Config) error {
	if cfg == nil || len(cfg.Servers) == 0 {
		return goerr.New("no MCP servers configured")
	}

	logger := logging.From(ctx)
	var failed []string
	for _, s := range cfg.Servers {
		if err := client.Connect(ctx, s); err != nil {
			logger.Warn("failed to connect to MCP server", "server", s.Name, "error", err)
			failed = append(failed, s.Name)
			continue
		}
		logger.Info("connected to MCP server", "server", s.Name)
	}

	if len(failed) == len(cfg.Servers) {
		return goerr.New("no MCP server could be connected", goerr.V("failed", failed))
	}
	return nil
}
