package main

import (
	"github.com/spf13/pflag"

	"caesar.dev/cmd/internal/dbg/config"
	"caesar.dev/cmd/internal/dbg/logflags"
)

// globalArgs are the flags every command accepts.
type globalArgs struct {
	configPath string
	logLevel   string
	logFile    string
}

func createArgs(f *pflag.FlagSet) *globalArgs {
	var args globalArgs
	f.StringVar(&args.configPath, "config", "", "configuration file (default "+config.DefaultPath()+")")
	f.StringVar(&args.logLevel, "log-level", "", "log level, overrides the configuration")
	f.StringVar(&args.logFile, "log-file", "", "log to this file instead of stderr")
	return &args
}

// load reads the configuration, applies the flags over it and sets up
// logging.
func (a *globalArgs) load() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFile != "" {
		cfg.Log.File = a.logFile
	}
	if err := logflags.Setup(cfg.Log.Level, cfg.Log.File); err != nil {
		return nil, err
	}
	return cfg, nil
}
