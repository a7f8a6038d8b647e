package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultSession: "work",
		ServerURL:      "https://chat.example.com/api",
		RealtimeURL:    "wss://chat.example.com/ws",
		Username:       "alice",
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.ServerURL != "https://chat.example.com/api" {
		t.Errorf("ServerURL = %q", loaded.ServerURL)
	}
	if loaded.Username != "alice" {
		t.Errorf("Username = %q, want alice", loaded.Username)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{Username: "alice"}); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CHATD_USERNAME", "bob")
	t.Setenv("CHATD_REALTIME_URL", "wss://override.example.com/ws")

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Username != "bob" {
		t.Errorf("Username = %q, want env override bob", loaded.Username)
	}
	if loaded.RealtimeURL != "wss://override.example.com/ws" {
		t.Errorf("RealtimeURL = %q, want env override", loaded.RealtimeURL)
	}
}

func TestToken(t *testing.T) {
	tmpDir := t.TempDir()
	tokenPath := filepath.Join(tmpDir, "token")
	if err := os.WriteFile(tokenPath, []byte("secret-token\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{TokenFile: tokenPath}
	if got := cfg.Token(); got != "secret-token" {
		t.Errorf("Token() = %q, want secret-token (trailing newline stripped)", got)
	}

	cfg = &Config{TokenFile: filepath.Join(tmpDir, "missing")}
	if got := cfg.Token(); got != "" {
		t.Errorf("Token() = %q, want empty for missing file", got)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
