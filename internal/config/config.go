package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatd/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`

	// ServerURL is the base URL of the REST backend (history, media upload).
	ServerURL string `toml:"server_url"`
	// RealtimeURL is the websocket endpoint for the STOMP channel.
	RealtimeURL string `toml:"realtime_url"`
	// Username is the account to connect as.
	Username string `toml:"username"`
	// TokenFile points at a file holding the bearer token for this session.
	// Token issuance itself is handled elsewhere; chatd only consumes it.
	TokenFile string `toml:"token_file"`
}

// Load reads config from the given path and applies CHATD_* environment
// overrides. Returns zero config and error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Token reads the bearer token from TokenFile. Empty string when the file
// is absent or unreadable; callers treat that as "not authenticated yet."
func (c *Config) Token() string {
	if c.TokenFile == "" {
		return ""
	}
	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return ""
	}
	return string(trimNewline(data))
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CHATD_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("CHATD_REALTIME_URL"); v != "" {
		c.RealtimeURL = v
	}
	if v := os.Getenv("CHATD_USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv("CHATD_TOKEN_FILE"); v != "" {
		c.TokenFile = v
	}
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
