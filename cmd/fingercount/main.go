package main

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/gwillem/fingercount/pkg/config"
)

type Options struct {
	LogLevel string `long:"log-level" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	Config   string `short:"c" long:"config" default:"fingercount.yml" description:"Configuration file"`

	Serve ServeCommand `command:"serve" description:"Track hands and serve finger counts and robot commands"`
	Watch WatchCommand `command:"watch" description:"Show live finger counts from a running server"`
	Setup SetupCommand `command:"setup" description:"Find the robot head, calibrate it and write the configuration"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "fingercount - count raised fingers on camera and drive a robot head"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// newLogger returns a text logger at the --log-level level.
func newLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads --config. A missing default file means built-in defaults.
func loadConfig(log *slog.Logger) (*config.Config, error) {
	cfg, err := config.LoadConfigFrom(opts.Config)
	if errors.Is(err, fs.ErrNotExist) && opts.Config == config.DefaultConfigFile {
		log.Info("no configuration file, using defaults", "path", opts.Config)
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	log.Info("loaded configuration", "path", opts.Config)
	return cfg, nil
}
