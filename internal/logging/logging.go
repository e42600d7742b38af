/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging builds fleetwatchd's logr.Logger from a zap logger,
// following the --log-mode/--log-level shape of the plugin's own
// logging setup but without the controller-runtime zap wrapper, which
// has nothing to attach to outside a ctrl.Manager.
package logging

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLevel is used whenever level fails to parse.
const DefaultLevel = zapcore.InfoLevel

// New builds a logr.Logger. mode selects the encoder and stack-trace
// behavior ("development" enables human-readable console output and
// stack traces on Warn+; anything else produces JSON suited to log
// aggregation). level is parsed with zapcore.ParseLevel, falling back
// to DefaultLevel when empty or invalid.
func New(mode, level string) logr.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = DefaultLevel
	}

	var cfg zap.Config
	if mode == "development" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	zl, err := cfg.Build()
	if err != nil {
		// zap.Config.Build only fails on a malformed encoder/sink
		// configuration, which New never constructs; fall back to a
		// minimal logger rather than leave the caller with a nil one.
		zl = zap.NewExample()
	}

	return zapr.NewLogger(zl)
}

// NewFromEnv applies the FLEETWATCH_LOG_MODE/FLEETWATCH_LOG_LEVEL
// environment overrides over the given flag values, mirroring the
// flag-or-envar precedence the plugin CLI uses for every tunable.
func NewFromEnv(mode, level string) logr.Logger {
	if v, ok := os.LookupEnv("FLEETWATCH_LOG_MODE"); ok {
		mode = v
	}
	if v, ok := os.LookupEnv("FLEETWATCH_LOG_LEVEL"); ok {
		level = v
	}
	return New(mode, level)
}
