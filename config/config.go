package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/khoste/vigil/errors"
	"gopkg.in/yaml.v3"
)

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

// Provider configures one language-model backend. Lower priority values
// are preferred. Enabled defaults to true when omitted.
type Provider struct {
	Name      string `yaml:"name"`
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	Priority  int    `yaml:"priority"`
	Enabled   *bool  `yaml:"enabled"`
}

// IsEnabled reports whether the provider is enabled in config.
func (p Provider) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// History holds the conversation bounding ceilings.
type History struct {
	MaxMessages int `yaml:"max_messages"`
	MaxChars    int `yaml:"max_chars"`
}

// RateLimit caps provider calls per time window.
type RateLimit struct {
	Requests      int `yaml:"requests"`
	WindowSeconds int `yaml:"window_seconds"`
}

// Executor bounds the interactive command runner.
type Executor struct {
	MaxOutputBytes int `yaml:"max_output_bytes"`
}

type Config struct {
	Model                string           `yaml:"model"`
	Providers            []Provider       `yaml:"providers"`
	History              History          `yaml:"history"`
	RateLimit            RateLimit        `yaml:"rate_limit"`
	Executor             Executor         `yaml:"executor"`
	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
}

// LoadConfig loads configuration from the user's home directory and the
// current working directory, with the latter taking precedence, then
// applies environment overrides on top.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	// Default .vigil directory to be hidden from the filesystem tools.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, ".vigil", ".vigil/**")

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".vigil", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".vigil", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Note: Unmarshal will overwrite fields present in the YAML. This provides
	// a simple merge where project-level config replaces user-level.
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides reads the thin env surface. Each variable is a plain
// string/int with a config default when absent.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIGIL_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := envInt("VIGIL_MAX_MESSAGES"); v > 0 {
		cfg.History.MaxMessages = v
	}
	if v := envInt("VIGIL_MAX_CHARS"); v > 0 {
		cfg.History.MaxChars = v
	}
	if v := envInt("VIGIL_RATE_LIMIT"); v > 0 {
		cfg.RateLimit.Requests = v
	}
	if v := envInt("VIGIL_RATE_WINDOW"); v > 0 {
		cfg.RateLimit.WindowSeconds = v
	}
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided. When no toolsets
// are configured at all, a permissive default with the built-in tools is
// synthesized.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		if len(c.Toolsets) == 0 {
			return &Toolset{
				Name:  "default",
				Tools: []string{"read_file", "write_file", "delete_file", "execute_command"},
			}, nil
		}
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	// Fallback to default if a specific toolset was requested but not found
	return c.GetToolset("default")
}
