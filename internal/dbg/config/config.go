// Package config holds the settings of the debugger front ends. They come
// from a TOML file, overlaid by CAESAR_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const EnvPrefix = "CAESAR_"

// Duration is a time.Duration written as "100ms" in the file.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("negative duration %s", b)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

type Log struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

type Debugger struct {
	ReceiveTimeout Duration `toml:"receive_timeout"`
	// StopTimeout of zero waits forever.
	StopTimeout  Duration `toml:"stop_timeout"`
	PollInterval Duration `toml:"poll_interval"`
}

type DAP struct {
	Port int `toml:"port"`
}

type Config struct {
	Prompt string `toml:"prompt"`
	// Init is a command the REPL runs before reading input.
	Init     string   `toml:"init"`
	Log      Log      `toml:"log"`
	Debugger Debugger `toml:"debugger"`
	DAP      DAP      `toml:"dap"`
}

func Default() *Config {
	return &Config{
		Prompt: "(caesar) ",
		Log:    Log{Level: "warn"},
		Debugger: Debugger{
			ReceiveTimeout: Duration(100 * time.Millisecond),
			PollInterval:   Duration(5 * time.Millisecond),
		},
	}
}

// ParseError is a file that is not valid TOML or has unknown keys.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DefaultPath is config.toml in the user configuration directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "caesar", "config.toml")
}

// Load reads path over the defaults and applies the environment. An empty
// path tries DefaultPath and tolerates its absence.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.decode(path, data); err != nil {
				return nil, err
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes data over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode("<config>", data); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		perr := &ParseError{Path: path, Err: err}
		var derr *toml.DecodeError
		var serr *toml.StrictMissingError
		switch {
		case errors.As(err, &derr):
			perr.Line, _ = derr.Position()
		case errors.As(err, &serr) && len(serr.Errors) > 0:
			first := serr.Errors[0]
			perr.Line, _ = first.Position()
			perr.Err = fmt.Errorf("unknown key %s", strings.Join(first.Key(), "."))
		}
		return perr
	}
	return nil
}

// ApplyEnv overrides settings from CAESAR_* variables, e.g.
// CAESAR_LOG_LEVEL or CAESAR_DEBUGGER_STOP_TIMEOUT.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, v := range c.envVars() {
		s, ok := lookup(EnvPrefix + v.name)
		if !ok {
			continue
		}
		if err := v.set(s); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, v.name, err)
		}
	}
	return nil
}

type envVar struct {
	name string
	set  func(string) error
}

func (c *Config) envVars() []envVar {
	str := func(p *string) func(string) error {
		return func(s string) error { *p = s; return nil }
	}
	num := func(p *int) func(string) error {
		return func(s string) error {
			v, err := strconv.Atoi(s)
			if err != nil {
				return err
			}
			*p = v
			return nil
		}
	}
	dur := func(p *Duration) func(string) error {
		return func(s string) error { return p.UnmarshalText([]byte(s)) }
	}

	return []envVar{
		{"PROMPT", str(&c.Prompt)},
		{"INIT", str(&c.Init)},
		{"LOG_LEVEL", str(&c.Log.Level)},
		{"LOG_FILE", str(&c.Log.File)},
		{"DEBUGGER_RECEIVE_TIMEOUT", dur(&c.Debugger.ReceiveTimeout)},
		{"DEBUGGER_STOP_TIMEOUT", dur(&c.Debugger.StopTimeout)},
		{"DEBUGGER_POLL_INTERVAL", dur(&c.Debugger.PollInterval)},
		{"DAP_PORT", num(&c.DAP.Port)},
	}
}

// Marshal renders c as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}
