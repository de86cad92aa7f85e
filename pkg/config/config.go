// Package config loads the relay and client settings from YAML files, applying
// defaults and TODOS_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const appName = "talking-todos"

var ErrNoSecret = errors.New("relay jwt secret is required")

type Log struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
	// File, when set, also receives every record as json.
	File string `yaml:"file,omitempty"`
}

func (l *Log) applyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

type Relay struct {
	Addr           string        `yaml:"addr"`
	Database       string        `yaml:"database"`
	Driver         string        `yaml:"driver"`
	Secret         string        `yaml:"jwt_secret"`
	Issuer         string        `yaml:"jwt_issuer,omitempty"`
	BackupInterval time.Duration `yaml:"backup_interval"`
	Log            Log           `yaml:"log"`
}

func DefaultRelay() Relay {
	r := Relay{}
	r.applyDefaults()
	return r
}

func (r *Relay) applyDefaults() {
	if r.Addr == "" {
		r.Addr = "localhost:8080"
	}
	if r.Database == "" {
		r.Database = "relay.db"
	}
	if r.Driver == "" {
		r.Driver = "sqlite3"
	}
	if r.BackupInterval <= 0 {
		r.BackupInterval = 5 * time.Second
	}
	r.Log.applyDefaults()
}

func (r *Relay) applyEnv() {
	setFromEnv(&r.Addr, "TODOS_RELAY_ADDR")
	setFromEnv(&r.Database, "TODOS_RELAY_DATABASE")
	setFromEnv(&r.Secret, "TODOS_JWT_SECRET")
	setFromEnv(&r.Issuer, "TODOS_JWT_ISSUER")
	setFromEnv(&r.Log.Level, "TODOS_LOG_LEVEL")
}

func (r Relay) Validate() error {
	if r.Secret == "" {
		return ErrNoSecret
	}
	return nil
}

type Client struct {
	ServerURL string `yaml:"server_url"`
	StoreID   string `yaml:"store_id"`
	// Token is a static bearer token. It is ignored when Secret is set.
	Token string `yaml:"token,omitempty"`
	// Secret lets a development client mint its own tokens for StoreID.
	Secret       string `yaml:"jwt_secret,omitempty"`
	Database     string `yaml:"database"`
	GeminiAPIKey string `yaml:"gemini_api_key,omitempty"`
	GeminiModel  string `yaml:"gemini_model"`
	Log          Log    `yaml:"log"`
}

func DefaultClient() Client {
	c := Client{}
	c.applyDefaults()
	return c
}

func (c *Client) applyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = "http://localhost:8080"
	}
	if c.Database == "" {
		if dir, err := configDir(); err == nil {
			c.Database = filepath.Join(dir, "todos.db")
		} else {
			c.Database = "todos.db"
		}
	}
	if c.GeminiModel == "" {
		c.GeminiModel = "gemini-2.0-flash"
	}
	if c.Log.Level == "" {
		c.Log.Level = "warn"
	}
	c.Log.applyDefaults()
}

func (c *Client) applyEnv() {
	setFromEnv(&c.ServerURL, "TODOS_SERVER_URL")
	setFromEnv(&c.StoreID, "TODOS_STORE_ID")
	setFromEnv(&c.Token, "TODOS_TOKEN")
	setFromEnv(&c.Secret, "TODOS_JWT_SECRET")
	setFromEnv(&c.Database, "TODOS_DATABASE")
	setFromEnv(&c.GeminiAPIKey, "GEMINI_API_KEY")
	setFromEnv(&c.GeminiAPIKey, "TODOS_GEMINI_API_KEY")
	setFromEnv(&c.GeminiModel, "TODOS_GEMINI_MODEL")
	setFromEnv(&c.Log.Level, "TODOS_LOG_LEVEL")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// LoadRelay reads the relay config at path. An empty path means defaults only.
func LoadRelay(path string) (Relay, error) {
	var r Relay
	if err := readYAML(path, &r); err != nil {
		return Relay{}, err
	}
	r.applyEnv()
	r.applyDefaults()
	return r, nil
}

// LoadClient reads the client config at path, or at ClientPath when path is empty.
// A missing file is not an error, the defaults apply. TODOS_* variables override
// both.
func LoadClient(path string) (Client, error) {
	c, err := LoadClientFile(path)
	if err != nil {
		return Client{}, err
	}
	c.applyEnv()
	return c, nil
}

// LoadClientFile is LoadClient without the environment overrides, for writing the
// file back without copying secrets from the environment into it.
func LoadClientFile(path string) (Client, error) {
	var c Client
	if path == "" {
		if p, err := ClientPath(); err == nil {
			path = p
		}
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		path = ""
	}
	if err := readYAML(path, &c); err != nil {
		return Client{}, err
	}
	c.applyDefaults()
	return c, nil
}

// Save writes the client config to path, creating its directory.
func (c Client) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	// may carry a token or api key
	return os.WriteFile(path, data, 0o600)
}

func readYAML(path string, into any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func configDir() (string, error) {
	if home := os.Getenv("XDG_CONFIG_HOME"); home != "" {
		return filepath.Join(home, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName), nil
}

// ClientPath is the default client config location.
func ClientPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
