// https://github.com/davidmpye/mdb
//
// Copyright (c) The mdb Authors
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package config loads cmd/mdbctl's settings from a YAML file: the
// serial device to open, the bus poll rate, and the log level. The
// driver core itself has no persisted state (spec §6); this exists only
// for the demo binary that drives it.
package config

import (
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is cmd/mdbctl's top-level settings file.
type Config struct {
	Device      string  `yaml:"device"`
	PollRateHz  float64 `yaml:"poll_rate_hz"`
	LogLevel    string  `yaml:"log_level"`
	MaxPrice    uint16  `yaml:"max_price"`
	MinPrice    uint16  `yaml:"min_price"`
	AcceptCoins uint16  `yaml:"accept_coins_mask"`
}

// Default returns the settings cmd/mdbctl falls back to when no config
// file is given.
func Default() Config {
	return Config{
		Device:      "/dev/ttyUSB0",
		PollRateHz:  20,
		LogLevel:    "info",
		MaxPrice:    0xFFFF,
		MinPrice:    0,
		AcceptCoins: 0xFFFF,
	}
}

// Load reads and parses the YAML file at path, starting from Default so
// a partial file only overrides what it sets.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(f, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseLogLevel turns the configured level string into a logrus.Level,
// defaulting to Info on an empty or unrecognized string.
func (c Config) ParseLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
