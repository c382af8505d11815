package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultListenAddr is the loopback address the local API binds to when the
// profile config does not set one.
const DefaultListenAddr = "127.0.0.1:7420"

// Config is the per-profile config.toml: where the marketplace backend
// lives and who this daemon acts as.
type Config struct {
	BackendURL  string `toml:"backend_url"`
	APIKey      string `toml:"api_key"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
	NotifyURL   string `toml:"notify_url"`
	ListenAddr  string `toml:"listen_addr"`
}

// Global is the global ~/.subletd/config.toml.
type Global struct {
	DefaultProfile string `toml:"default_profile"`
}

// Load reads a profile config from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	return &cfg, nil
}

// Save writes a profile config to the given path, creating parent dirs as
// needed. The file carries an access token, hence 0600.
func Save(path string, cfg *Config) error {
	return write(path, cfg)
}

// LoadGlobal reads the global config. Returns error if the file is missing.
func LoadGlobal(path string) (*Global, error) {
	var g Global
	if _, err := toml.DecodeFile(path, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// SaveGlobal writes the global config.
func SaveGlobal(path string, g *Global) error {
	return write(path, g)
}

func write(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
