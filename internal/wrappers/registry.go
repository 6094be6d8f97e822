package wrappers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/steveyegge/campaign/internal/params"
)

// Constructor builds a wrapper from the options of a campaign file entry.
type Constructor func(opts Options) (Wrapper, error)

var (
	registry      = make(map[string]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a wrapper constructor under a type name.
// Builtin wrappers register themselves in init().
//
// Example:
//
//	func init() {
//	    wrappers.Register("taskset", newTaskset)
//	}
func Register(kind string, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("wrappers: Register constructor is nil for type %s", kind))
	}
	if _, exists := registry[kind]; exists {
		panic(fmt.Sprintf("wrappers: Register called twice for type %s", kind))
	}
	registry[kind] = constructor
}

// IsRegistered returns true if a constructor is registered for kind.
func IsRegistered(kind string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[kind]
	return exists
}

// RegisteredTypes returns all registered wrapper types, sorted.
func RegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// New builds a wrapper of the given type. An unknown type is a
// configuration error.
func New(kind string, opts Options) (Wrapper, error) {
	registryMutex.RLock()
	constructor := registry[kind]
	registryMutex.RUnlock()

	if constructor == nil {
		return nil, params.Configf("unknown wrapper type %q (known: %v)", kind, RegisteredTypes())
	}
	w, err := constructor(opts)
	if err != nil {
		return nil, params.Configf("wrapper %s: %v", kind, err)
	}
	return w, nil
}
