package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
[matrix]
homeserver = "https://matrix.example.org"
username = "tubebot"
password = "${TEST_MATRIX_PASSWORD}"

[gateway]
url = "http://localhost:8080"
token = "bridge-token"
poll_interval = "5s"

[bridge]
allowed_rooms = ["!abc:example.org"]
command_prefix = "!video "
typing_indicator = true
`

func TestParseConfig(t *testing.T) {
	t.Setenv("TEST_MATRIX_PASSWORD", "hunter2")

	cfg, err := Parse(validConfig)
	require.NoError(t, err)

	assert.Equal(t, "hunter2", cfg.Matrix.Password)
	assert.Equal(t, "tubeagent-matrix", cfg.Matrix.DeviceName)
	assert.Equal(t, 5*time.Second, cfg.Gateway.PollInterval.Duration)
	assert.Equal(t, 2*time.Minute, cfg.Gateway.Timeout.Duration)
	assert.Equal(t, 2*time.Hour, cfg.Gateway.WatchTimeout.Duration)
	assert.Equal(t, []string{"!abc:example.org"}, cfg.Bridge.AllowedRooms)
	assert.Equal(t, "!video ", cfg.Bridge.CommandPrefix)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestParseConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		wantErr string
	}{
		{
			name:    "missing homeserver",
			config:  "[matrix]\nusername = \"a\"\npassword = \"b\"\n[gateway]\nurl = \"http://x\"\n",
			wantErr: "matrix.homeserver is required",
		},
		{
			name:    "missing password",
			config:  "[matrix]\nhomeserver = \"https://m\"\nusername = \"a\"\n[gateway]\nurl = \"http://x\"\n",
			wantErr: "matrix.password is required",
		},
		{
			name:    "bad gateway scheme",
			config:  "[matrix]\nhomeserver = \"https://m\"\nusername = \"a\"\npassword = \"b\"\n[gateway]\nurl = \"ftp://x\"\n",
			wantErr: "gateway.url must use http or https scheme",
		},
		{
			name:    "bad duration",
			config:  "[matrix]\nhomeserver = \"https://m\"\nusername = \"a\"\npassword = \"b\"\n[gateway]\nurl = \"http://x\"\npoll_interval = \"soon\"\n",
			wantErr: "parsing config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRenderConfigRoundTrip(t *testing.T) {
	t.Setenv("TUBEAGENT_BRIDGE_TOKEN", "tok")

	content := renderConfig("https://matrix.org", "tubebot", "pw", "", "http://localhost:8080", "${TUBEAGENT_BRIDGE_TOKEN}", "!video ")
	path := filepath.Join(t.TempDir(), "matrix-bridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.Gateway.Token)
	assert.Equal(t, "!video ", cfg.Bridge.CommandPrefix)
	assert.Empty(t, cfg.Matrix.RecoveryKey)
	assert.True(t, cfg.Bridge.TypingIndicator)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "tubebot_matrix.org", slugify("@tubebot:matrix.org"))
	assert.Equal(t, "a-b_c..", slugify("a-b_c/../"))
}

func TestDeviceChangedWithoutDatabase(t *testing.T) {
	changed, err := deviceChanged(filepath.Join(t.TempDir(), "missing.db"), "DEVICE")
	require.NoError(t, err)
	assert.False(t, changed)
}
