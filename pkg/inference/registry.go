package inference

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
)

// Settings contains backend-agnostic parameters handed to every factory.
// Backends read only the fields they need.
type Settings struct {
	ProjectRoot string
	OutputsDir  string
	HFHome      string

	PythonBin string
	Script    string

	RemoteURL  string
	HTTPClient *http.Client

	Views  int
	Logger *slog.Logger
}

// Factory builds a Capability from Settings.
type Factory func(s Settings) (Capability, error)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register makes a backend available under name. Later registrations win.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
}

// New builds the backend registered under name.
func New(name string, s Settings) (Capability, error) {
	mu.RLock()
	factory, ok := registry[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown inference backend: %s", name)
	}
	if s.Views <= 0 {
		s.Views = DefaultViews
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return factory(s)
}

// Backends returns registered backend names in sorted order.
func Backends() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
