// Package config loads the bot configuration document and the token file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath         = "config.json"
	DefaultKillTimeout  = 30.0
	DefaultShellTimeout = 600.0
)

// Config mirrors the configuration document. JSON documents load as well,
// JSON being a subset of YAML.
type Config struct {
	Channel      string   `yaml:"channel"`
	Prefixes     []string `yaml:"prefixes"`
	MCDirectory  string   `yaml:"mc-directory"`
	MCCommand    string   `yaml:"mc-command"`
	KillTimeout  float64  `yaml:"mc-kill-timeout"` // seconds
	ShellTimeout float64  `yaml:"shell-timeout"`   // seconds, 0 disables
	Autostart    bool     `yaml:"autostart"`
	NamePrefix   string   `yaml:"name-prefix"`
	RoleConfig   string   `yaml:"role-config"`
	RoleUsers    string   `yaml:"role-users"`
	AuthToken    string   `yaml:"auth-token"`
	LogLevel     string   `yaml:"log-level"`
}

func defaults() Config {
	return Config{
		MCDirectory:  ".",
		KillTimeout:  DefaultKillTimeout,
		ShellTimeout: DefaultShellTimeout,
		RoleConfig:   "roles.json",
		RoleUsers:    "users.json",
		AuthToken:    "token.txt",
		LogLevel:     "info",
	}
}

// Load reads and validates the document at path. Keys absent from the
// document keep their defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Channel == "" {
		errs = append(errs, errors.New("channel is required"))
	}
	if len(c.Command()) == 0 {
		errs = append(errs, errors.New("mc-command is required"))
	}
	if c.KillTimeout <= 0 {
		errs = append(errs, errors.New("mc-kill-timeout must be positive"))
	}
	if c.ShellTimeout < 0 {
		errs = append(errs, errors.New("shell-timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// Command splits mc-command on white space.
func (c *Config) Command() []string {
	return strings.Fields(c.MCCommand)
}

func (c *Config) KillTimeoutDuration() time.Duration {
	return seconds(c.KillTimeout)
}

func (c *Config) ShellTimeoutDuration() time.Duration {
	return seconds(c.ShellTimeout)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// LoadToken returns the trimmed content of the token file.
func LoadToken(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return tok, nil
}
