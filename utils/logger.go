/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/sirupsen/logrus"
)

// Logger is the logger type handed out by NewLogger.
type Logger = logrus.Logger

const (
	// ComponentField carries the registered logger name on every entry.
	ComponentField = "component"

	timestampFormat = "2006-01-02 15:04:05.000"
)

var (
	loggersMu sync.RWMutex
	loggers   = make(map[string]*logrus.Logger)
	baseLevel = ParseLogLevel(EnvDefaultString("LOG_LEVEL", "info"))
)

// componentHook stamps the logger name onto entries that do not carry one.
type componentHook struct {
	name string
}

func (h *componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *componentHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data[ComponentField]; !ok {
		e.Data[ComponentField] = h.name
	}
	return nil
}

// NewLogger returns the logger registered under name, creating it on first use.
// Output format follows LOG_FORMAT ("text" or "json"), level follows LOG_LEVEL.
func NewLogger(name string) *logrus.Logger {
	name = strings.ToUpper(strings.TrimSpace(name))

	loggersMu.RLock()
	l, ok := loggers[name]
	loggersMu.RUnlock()
	if ok {
		return l
	}

	l = logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(NewFormatter(EnvDefaultString("LOG_FORMAT", "text")))
	l.SetLevel(baseLevel)
	l.AddHook(&componentHook{name: name})
	RegisterLogger(name, l)
	return l
}

// NewFormatter builds the formatter for a format name; unknown names fall back to text.
func NewFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "json") {
		return &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	}
	return &nested.Formatter{
		FieldsOrder:     []string{ComponentField},
		TimestampFormat: timestampFormat,
		NoColors:        EnvDefaultBool("LOG_NO_COLOR", false),
		CustomCallerFormatter: func(f *runtime.Frame) string {
			return fmt.Sprintf(" (%s:%d)", path.Base(f.File), f.Line)
		},
	}
}

// RegisterLogger stores l under name, replacing any previous logger.
func RegisterLogger(name string, l *logrus.Logger) {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	loggers[strings.ToUpper(name)] = l
}

// ParseLogLevel parses s, defaulting to info.
func ParseLogLevel(s string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// SetAllLoggersLevel applies lvl to every registered logger and to loggers created later.
func SetAllLoggersLevel(lvl logrus.Level) {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	baseLevel = lvl
	for _, l := range loggers {
		l.SetLevel(lvl)
	}
}

// SetLoggerLevel changes the level of one registered logger.
// It reports false when no logger is registered under name.
func SetLoggerLevel(name string, lvlStr string) bool {
	loggersMu.RLock()
	l, ok := loggers[strings.ToUpper(name)]
	loggersMu.RUnlock()
	if !ok {
		return false
	}
	l.SetLevel(ParseLogLevel(lvlStr))
	return true
}

// ConfigureLogLevel is SetAllLoggersLevel for a textual level.
func ConfigureLogLevel(levelStr string) {
	SetAllLoggersLevel(ParseLogLevel(levelStr))
}

// ConfigureLogFormat swaps the formatter of every registered logger.
func ConfigureLogFormat(format string) {
	loggersMu.RLock()
	defer loggersMu.RUnlock()
	for _, l := range loggers {
		l.SetFormatter(NewFormatter(format))
	}
}

func EnvDefaultString(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}
