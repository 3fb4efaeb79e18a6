package config

import (
	"path/filepath"
	"testing"
)

func TestFilePath(t *testing.T) {
	tests := []struct {
		name     string
		explicit string
		xdg      string
		want     string
	}{
		{"explicit path wins", "/etc/custom.yaml", "/xdg", "/etc/custom.yaml"},
		{"xdg config home", "", "/xdg", filepath.Join("/xdg", "tubeagent", "config.yaml")},
		{"home fallback", "", "", filepath.Join("/home/alice", ".config", "tubeagent", "config.yaml")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TUBEAGENT_TEST_CONFIG", tt.explicit)
			t.Setenv("XDG_CONFIG_HOME", tt.xdg)
			t.Setenv("HOME", "/home/alice")

			if got := FilePath("TUBEAGENT_TEST_CONFIG", "config.yaml"); got != tt.want {
				t.Errorf("FilePath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	if got := DataDir(); got != filepath.Join("/data", "tubeagent") {
		t.Errorf("DataDir() = %q", got)
	}

	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("HOME", "/home/alice")
	if got := DataDir(); got != filepath.Join("/home/alice", ".local", "share", "tubeagent") {
		t.Errorf("DataDir() = %q", got)
	}
}
