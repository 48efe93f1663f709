// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config builds the flag/env/file-backed configuration for
// cmd/lrucached, the way cmd/simulator/config does for the teacher's
// load simulator: a pflag.FlagSet wired into a viper.Viper so values
// can come from flags or environment variables, with flags taking
// precedence. No config file is read.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luxfi/lrucache/log"
	"github.com/luxfi/lrucache/server/mtnonblock"
)

// Flag/key names, exported so callers (and tests) can reference them
// without repeating string literals.
const (
	ModeKey          = "mode"
	PortKey          = "port"
	AcceptorsKey     = "acceptors"
	WorkersKey       = "workers"
	LowWatermarkKey  = "low-watermark"
	HighWatermarkKey = "high-watermark"
	MaxQueueSizeKey  = "max-queue-size"
	IdleTimeoutKey   = "idle-timeout"
	MaxBytesKey      = "max-bytes"
	LogLevelKey      = "log-level"
	LogJSONKey       = "log-json"
	MetricsAddrKey   = "metrics-addr"
)

// Mode selects which server front end cmd/lrucached runs.
type Mode string

const (
	ModeBlocking   Mode = "blocking"
	ModeSTNonBlock Mode = "stnonblock"
	ModeMTNonBlock Mode = "mtnonblock"
)

// Config is the fully resolved, validated configuration for
// cmd/lrucached.
type Config struct {
	Mode Mode

	Port      int
	Acceptors int
	Workers   int

	LowWatermark  int
	HighWatermark int
	MaxQueueSize  int
	IdleTimeout   time.Duration

	MaxBytes int

	LogLevel    string
	LogJSON     bool
	MetricsAddr string
}

// BuildFlagSet declares every flag cmd/lrucached accepts, mirroring
// the teacher's cmd/simulator/config.BuildFlagSet shape: one function
// that owns the full flag surface, handed to viper by the caller.
func BuildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("lrucached", pflag.ContinueOnError)

	fs.String(ModeKey, string(ModeSTNonBlock), "server front end: blocking, stnonblock, or mtnonblock")
	fs.Int(PortKey, 9999, "TCP port to listen on")
	fs.Int(AcceptorsKey, 1, "concurrent accept-path goroutines (blocking front end only)")
	fs.Int(WorkersKey, 0, "command-processing concurrency bound (semaphore width for blocking, pool high watermark override for mtnonblock; 0 keeps the front end's default)")
	fs.Int(LowWatermarkKey, 4, "worker pool low watermark (mtnonblock only)")
	fs.Int(HighWatermarkKey, 32, "worker pool high watermark (mtnonblock only)")
	fs.Int(MaxQueueSizeKey, 1024, "worker pool max queued tasks (mtnonblock only)")
	fs.Duration(IdleTimeoutKey, 30*time.Second, "worker idle-retirement timeout above the low watermark (mtnonblock only)")
	fs.Int(MaxBytesKey, 64<<20, "store capacity in bytes")
	fs.String(LogLevelKey, "info", "log level: trace, debug, info, warn, error, crit")
	fs.Bool(LogJSONKey, false, "emit JSON logs to a rotating file instead of the interactive terminal handler")
	fs.String(MetricsAddrKey, "", "address to serve /metrics on (empty disables the metrics server)")

	return fs
}

// BuildViper parses args against fs, binds every flag's matching
// environment variable (LRUCACHED_<FLAG_NAME>, dashes to underscores),
// and returns the resulting viper.Viper. Returns pflag.ErrHelp
// unwrapped if -h/--help was requested, matching pflag's own
// convention so callers can special-case it with errors.Is.
func BuildViper(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("lrucached")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}
	return v, nil
}

// BuildConfig reads every key out of v and assembles a validated
// Config, the way cmd/simulator/config.BuildConfig turns a *viper.Viper
// into a typed config struct for the rest of the program to use.
func BuildConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Mode:          Mode(v.GetString(ModeKey)),
		Port:          v.GetInt(PortKey),
		Acceptors:     v.GetInt(AcceptorsKey),
		Workers:       v.GetInt(WorkersKey),
		LowWatermark:  v.GetInt(LowWatermarkKey),
		HighWatermark: v.GetInt(HighWatermarkKey),
		MaxQueueSize:  v.GetInt(MaxQueueSizeKey),
		IdleTimeout:   v.GetDuration(IdleTimeoutKey),
		MaxBytes:      v.GetInt(MaxBytesKey),
		LogLevel:      v.GetString(LogLevelKey),
		LogJSON:       v.GetBool(LogJSONKey),
		MetricsAddr:   v.GetString(MetricsAddrKey),
	}

	switch cfg.Mode {
	case ModeBlocking, ModeSTNonBlock, ModeMTNonBlock:
	default:
		return Config{}, fmt.Errorf("unknown mode %q: want one of blocking, stnonblock, mtnonblock", cfg.Mode)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.MaxBytes <= 0 {
		return Config{}, fmt.Errorf("max-bytes must be positive, got %d", cfg.MaxBytes)
	}
	if _, err := log.LvlFromString(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	if cfg.Mode == ModeMTNonBlock {
		if cfg.LowWatermark <= 0 || cfg.HighWatermark < cfg.LowWatermark {
			return Config{}, fmt.Errorf("invalid watermarks: low=%d high=%d", cfg.LowWatermark, cfg.HighWatermark)
		}
		if cfg.MaxQueueSize < 1 {
			return Config{}, fmt.Errorf("max-queue-size must be at least 1, got %d", cfg.MaxQueueSize)
		}
	}

	return cfg, nil
}

// PoolConfig extracts the mtnonblock.Config subset of Config.
func (c Config) PoolConfig() mtnonblock.Config {
	return mtnonblock.Config{
		LowWatermark:  c.LowWatermark,
		HighWatermark: c.HighWatermark,
		MaxQueueSize:  c.MaxQueueSize,
		IdleTimeout:   c.IdleTimeout,
	}
}
