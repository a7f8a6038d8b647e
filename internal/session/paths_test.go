package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".chatd", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestAppDBPath(t *testing.T) {
	got := AppDBPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "chat.db")) {
		t.Errorf("AppDBPath(test) = %q, want suffix sessions/test/chat.db", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix sessions/test/LOCK", got)
	}
}

func TestLogPath(t *testing.T) {
	got := LogPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "logs", "chatd.log")) {
		t.Errorf("LogPath(test) = %q, want suffix sessions/test/logs/chatd.log", got)
	}
}
