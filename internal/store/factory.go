// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package store

import (
	"sync"

	wardenerr "github.com/warden-dev/warden/pkg/errors"
)

// Config selects and locates the storage backend.
type Config struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// Factory creates a Store for a backend given its data path.
type Factory func(path string) (Store, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). Goroutine-safe.
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Open creates the Store the configuration names, defaulting to sqlite.
func Open(cfg Config) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "sqlite"
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, wardenerr.Errorf(wardenerr.CodeStoreBackendUnsupported,
			"unsupported storage backend: %q", backend)
	}
	return factory(cfg.Path)
}
