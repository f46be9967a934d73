package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[string]Source)
	registryMu sync.RWMutex
)

// Register adds a source kind to the registry.
// Panics if a source with the same name is already registered.
func Register(src Source) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[src.Name]; exists {
		panic(fmt.Sprintf("source already registered: %s", src.Name))
	}
	if src.AnswerDelimiter == "" {
		src.AnswerDelimiter = DefaultAnswerDelimiter
	}
	if src.Placeholder == nil {
		src.Placeholder = DefaultPlaceholder
	}

	registry[src.Name] = src
}

// Get returns a source kind by name.
// Returns false if not found.
func Get(name string) (Source, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	src, ok := registry[name]
	return src, ok
}

// All returns all registered source kinds in run order: by priority, then by
// name.
func All() []Source {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]Source, 0, len(registry))
	for _, src := range registry {
		result = append(result, src)
	}
	SortSources(result)
	return result
}

// Select returns the named source kinds in run order. Unknown names yield a
// ConfigurationError. An empty list selects everything.
func Select(names []string) ([]Source, error) {
	if len(names) == 0 {
		return All(), nil
	}

	result := make([]Source, 0, len(names))
	for _, name := range names {
		src, ok := Get(name)
		if !ok {
			return nil, &ConfigurationError{Field: "source", Err: fmt.Errorf("%w: %s", ErrUnknownSource, name)}
		}
		result = append(result, src)
	}
	SortSources(result)
	return result, nil
}

// SortSources orders sources by priority, then by concrete id.
func SortSources(srcs []Source) {
	sort.SliceStable(srcs, func(i, j int) bool {
		if srcs[i].Priority != srcs[j].Priority {
			return srcs[i].Priority < srcs[j].Priority
		}
		return srcs[i].SourceID() < srcs[j].SourceID()
	})
}

// SourceCount returns the number of registered source kinds.
func SourceCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered sources.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Source)
}
