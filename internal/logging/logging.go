// Package logging builds the root zerolog logger and implements the runtime
// level and per-category debug controls behind the admin routes.
//
// The zerolog global level stays at debug; the effective level is enforced
// in the output writer. That keeps debug events flowing for components
// whose category toggle is on while the configured level sits higher.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// knownCategories are the component tags used across the gateway.
var knownCategories = []string{
	"soap",
	"discovery",
	"topology",
	"event-bus",
	"notify-listener",
	"subscriber",
	"event-stream",
	"scheduler",
	"services",
	"accounts",
	"spotify",
	"library",
	"stations",
	"preset",
	"router",
	"server",
}

var (
	configuredLevel atomic.Int32

	categoryMu sync.RWMutex
	categories = func() map[string]bool {
		m := make(map[string]bool, len(knownCategories))
		for _, name := range knownCategories {
			m[name] = false
		}
		return m
	}()
)

// New builds the root logger writing JSON to stderr through the level and
// category filter.
func New(level string) (zerolog.Logger, error) {
	if err := SetLevel(level); err != nil {
		return zerolog.Logger{}, err
	}
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	logger := zerolog.New(&filterWriter{out: os.Stderr}).With().Timestamp().Logger()
	return logger, nil
}

// SetLevel changes the effective level at runtime.
func SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		return fmt.Errorf("invalid log level %q", level)
	}
	configuredLevel.Store(int32(lvl))
	return nil
}

// Level returns the current effective level name.
func Level() string {
	return zerolog.Level(configuredLevel.Load()).String()
}

// SetCategory toggles debug output for one component category. Unknown
// names are accepted so toggles can precede component startup.
func SetCategory(name string, enabled bool) {
	categoryMu.Lock()
	defer categoryMu.Unlock()
	categories[name] = enabled
}

// EnableAll turns every category on.
func EnableAll() {
	setAll(true)
}

// DisableAll turns every category off.
func DisableAll() {
	setAll(false)
}

func setAll(enabled bool) {
	categoryMu.Lock()
	defer categoryMu.Unlock()
	for name := range categories {
		categories[name] = enabled
	}
}

// Categories returns a copy of the toggle table.
func Categories() map[string]bool {
	categoryMu.RLock()
	defer categoryMu.RUnlock()
	out := make(map[string]bool, len(categories))
	for name, enabled := range categories {
		out[name] = enabled
	}
	return out
}

// CategoryNames returns the known category names sorted.
func CategoryNames() []string {
	categoryMu.RLock()
	defer categoryMu.RUnlock()
	names := make([]string, 0, len(categories))
	for name := range categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func categoryEnabled(name string) bool {
	categoryMu.RLock()
	defer categoryMu.RUnlock()
	return categories[name]
}

// filterWriter applies the effective level, letting category-enabled debug
// lines through regardless.
type filterWriter struct {
	mu  sync.Mutex
	out io.Writer
}

type logLine struct {
	Level     string `json:"level"`
	Component string `json:"component"`
}

func (w *filterWriter) Write(p []byte) (int, error) {
	effective := zerolog.Level(configuredLevel.Load())
	if effective > zerolog.DebugLevel {
		var line logLine
		if err := json.Unmarshal(p, &line); err == nil {
			lvl, err := zerolog.ParseLevel(line.Level)
			if err == nil && lvl < effective {
				if !(lvl == zerolog.DebugLevel && line.Component != "" && categoryEnabled(line.Component)) {
					return len(p), nil
				}
			}
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Write(p)
}
