// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/kadirpekel/instruct/pkg/config"
	"github.com/kadirpekel/instruct/pkg/logger"
)

const (
	// LogFileEnvVar is the environment variable name for log file path
	LogFileEnvVar = "LOG_FILE"
	// LogLevelEnvVar is the environment variable name for log level
	LogLevelEnvVar = "LOG_LEVEL"
	// LogFormatEnvVar is the environment variable name for log format
	LogFormatEnvVar = "LOG_FORMAT"

	defaultLogLevel  = "info"
	defaultLogFormat = logger.FormatSimple
)

type logSettings struct {
	Level  string
	File   string
	Format string
}

// resolveLogSettings picks each setting by priority: CLI flag, environment,
// config file, default.
func resolveLogSettings(cliLevel, cliFile, cliFormat string, cfg *config.LoggerConfig) logSettings {
	var fromCfg config.LoggerConfig
	if cfg != nil {
		fromCfg = *cfg
	}
	return logSettings{
		Level:  firstNonEmpty(cliLevel, os.Getenv(LogLevelEnvVar), fromCfg.Level, defaultLogLevel),
		File:   firstNonEmpty(cliFile, os.Getenv(LogFileEnvVar), fromCfg.File),
		Format: firstNonEmpty(cliFormat, os.Getenv(LogFormatEnvVar), fromCfg.Format, defaultLogFormat),
	}
}

func initLogger(s logSettings) (func(), error) {
	level, err := logger.ParseLevel(s.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if !logger.ValidFormat(s.Format) {
		return nil, fmt.Errorf("invalid log format %q", s.Format)
	}

	output := os.Stderr
	var cleanup func()
	if s.File != "" {
		file, cleanupFn, err := logger.OpenLogFile(s.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = cleanupFn
	}

	logger.Init(level, output, s.Format)
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
