package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "(caesar) ", cfg.Prompt)
	assert.Equal(t, 100*time.Millisecond, cfg.Debugger.ReceiveTimeout.D())
	assert.Equal(t, time.Duration(0), cfg.Debugger.StopTimeout.D())
	assert.Equal(t, 5*time.Millisecond, cfg.Debugger.PollInterval.D())
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
prompt = "> "

[log]
level = "debug"

[debugger]
receive_timeout = "250ms"
stop_timeout = "10s"

[dap]
port = 4711
`))
	require.NoError(t, err)
	assert.Equal(t, "> ", cfg.Prompt)
	assert.Equal(t, "", cfg.Init)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Debugger.ReceiveTimeout.D())
	assert.Equal(t, 10*time.Second, cfg.Debugger.StopTimeout.D())
	assert.Equal(t, 5*time.Millisecond, cfg.Debugger.PollInterval.D())
	assert.Equal(t, 4711, cfg.DAP.Port)
}

var badConfigTests = []string{
	`prompt = `,
	`unknown = 1`,
	"[debugger]\nreceive_timeout = \"soon\"",
	"[debugger]\nstop_timeout = \"-1s\"",
	"[dap]\nport = \"x\"",
}

func TestParseErrors(t *testing.T) {
	for i, test := range badConfigTests {
		_, err := Parse([]byte(test))
		var perr *ParseError
		assert.True(t, errors.As(err, &perr), "test #%d", i)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CAESAR_LOG_LEVEL":             "info",
		"CAESAR_DEBUGGER_STOP_TIMEOUT": "3s",
		"CAESAR_DAP_PORT":              "9000",
		"OTHER_LOG_LEVEL":              "error",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3*time.Second, cfg.Debugger.StopTimeout.D())
	assert.Equal(t, 9000, cfg.DAP.Port)

	env["CAESAR_DAP_PORT"] = "many"
	err := cfg.ApplyEnv(lookup)
	assert.ErrorContains(t, err, "CAESAR_DAP_PORT")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nfile = \"/tmp/caesar.log\"\n"), 0o644))
	t.Setenv("CAESAR_PROMPT", "$ ")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/caesar.log", cfg.Log.File)
	assert.Equal(t, "$ ", cfg.Prompt)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Debugger.StopTimeout = Duration(2 * time.Second)
	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "stop_timeout")
	assert.Contains(t, string(data), "2s")

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestUnknownKeyIsNamed(t *testing.T) {
	_, err := Parse([]byte("prompt = \"> \"\n\n[log]\ncolour = true\n"))
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Positive(t, perr.Line)
	assert.Contains(t, err.Error(), "unknown key")
	assert.Contains(t, err.Error(), "colour")
}
