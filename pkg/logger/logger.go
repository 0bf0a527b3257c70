// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger installs the process-wide slog handler.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/term"
)

const modulePrefix = "github.com/kadirpekel/instruct"

// Output formats accepted by Init.
const (
	FormatSimple  = "simple"
	FormatVerbose = "verbose"
	FormatJSON    = "json"
)

var (
	defaultLogger *slog.Logger
	mu            sync.Mutex
)

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, warning, error.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", levelStr)
	}
}

// ValidFormat reports whether format is one Init understands.
func ValidFormat(format string) bool {
	switch format {
	case "", FormatSimple, FormatVerbose, FormatJSON:
		return true
	}
	return false
}

// filteringHandler drops third-party records below WARN unless the
// configured level is DEBUG.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel && h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug || record.Level >= slog.LevelWarn || isOwnPackage(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func isOwnPackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	return strings.HasPrefix(fn.Name(), modulePrefix)
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m"
	case level >= slog.LevelWarn:
		return "\033[33m"
	case level >= slog.LevelInfo:
		return "\033[36m"
	default:
		return "\033[90m"
	}
}

func levelName(level slog.Level) string {
	s := strings.ToUpper(level.String())
	if s == "WARNING" {
		return "WARN"
	}
	return s
}

// lineHandler writes one line per record: [time] LEVEL message key=value...
type lineHandler struct {
	mu       *sync.Mutex
	writer   io.Writer
	level    slog.Leveler
	useColor bool
	withTime bool
	attrs    []slog.Attr
	group    string
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *lineHandler) Handle(_ context.Context, record slog.Record) error {
	var buf strings.Builder

	if h.withTime && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}

	if h.useColor {
		buf.WriteString(levelColor(record.Level))
		buf.WriteString(levelName(record.Level))
		buf.WriteString("\033[0m")
	} else {
		buf.WriteString(levelName(record.Level))
	}
	buf.WriteString(" ")
	buf.WriteString(record.Message)

	write := func(a slog.Attr) {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		buf.WriteString(" ")
		buf.WriteString(key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
	}
	for _, a := range h.attrs {
		write(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, buf.String())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

// NewHandler builds the handler Init installs, writing to w.
func NewHandler(level slog.Level, w io.Writer, format string, useColor bool) slog.Handler {
	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case FormatVerbose:
		handler = &lineHandler{mu: &sync.Mutex{}, writer: w, level: level, useColor: useColor, withTime: true}
	default:
		handler = &lineHandler{mu: &sync.Mutex{}, writer: w, level: level, useColor: useColor}
	}
	return &filteringHandler{handler: handler, minLevel: level}
}

// Init initializes the default logger. Colors are enabled for terminal
// output in the text formats.
func Init(level slog.Level, output *os.File, format string) {
	useColor := format != FormatJSON && term.IsTerminal(int(output.Fd()))

	mu.Lock()
	defer mu.Unlock()
	defaultLogger = slog.New(NewHandler(level, output, format, useColor))
	slog.SetDefault(defaultLogger)
}

// OpenLogFile opens or creates a log file at the specified path.
// Returns the file handle and a cleanup function.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return file, func() { _ = file.Close() }, nil
}

// GetLogger returns the default logger, initializing it at INFO if needed.
func GetLogger() *slog.Logger {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l == nil {
		Init(slog.LevelInfo, os.Stderr, FormatSimple)
		mu.Lock()
		l = defaultLogger
		mu.Unlock()
	}
	return l
}
