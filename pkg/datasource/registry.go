package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/harmonize/pkg/core"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a datasource factory to the registry.
// Called by datasource implementations in their init() functions.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get retrieves a datasource factory by type name.
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// New creates a datasource based on spec.Type.
// The logger parameter is passed to the factory (nil uses discard logger).
func New(ctx context.Context, spec Spec, logger *slog.Logger) (core.Datasource, error) {
	if spec.Type == "" {
		return nil, fmt.Errorf("datasource %s: type not specified", spec.Name)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	factory, ok := Get(strings.ToLower(spec.Type))
	if !ok {
		return nil, &UnknownTypeError{
			Type:      spec.Type,
			Available: List(),
		}
	}
	return factory(ctx, spec, logger.With("datasource", spec.Name))
}

// List returns all registered datasource types (sorted).
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a datasource type is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// UnknownTypeError is returned when an unknown datasource type is requested.
type UnknownTypeError struct {
	Type      string
	Available []string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown datasource type %q\nAvailable types: %v\nHint: Check the datasources[].type entries in harmonize.yaml", e.Type, e.Available)
}
