package strategy

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"offworker/cache"
)

// Name represents a request-fulfillment strategy
type Name string

const (
	// CacheFirst serves fresh cache, falling back to network then stale cache
	CacheFirst Name = "cacheFirst"
	// NetworkFirst serves network, falling back to any cached entry
	NetworkFirst Name = "networkFirst"
	// StaleWhileRevalidate serves cache immediately and refreshes in the background
	StaleWhileRevalidate Name = "staleWhileRevalidate"
	// NetworkOnly always fetches, never touching the cache
	NetworkOnly Name = "networkOnly"
	// CacheOnly serves cache only, never touching the network
	CacheOnly Name = "cacheOnly"
)

// ParseName validates a strategy name
func ParseName(s string) (Name, error) {
	switch Name(s) {
	case CacheFirst, NetworkFirst, StaleWhileRevalidate, NetworkOnly, CacheOnly:
		return Name(s), nil
	default:
		return "", errors.Errorf("unknown strategy %q", s)
	}
}

// DefaultStrategies returns the default class to strategy mapping
func DefaultStrategies() map[cache.ResourceClass]Name {
	return map[cache.ResourceClass]Name{
		cache.ClassStatic:  CacheFirst,
		cache.ClassDynamic: StaleWhileRevalidate,
		cache.ClassAPI:     NetworkFirst,
		cache.ClassImages:  CacheFirst,
		cache.ClassFonts:   CacheFirst,
	}
}

// NewConfig returns a new Config instance holding the given initial mapping
func NewConfig(initial map[cache.ResourceClass]Name) *Config {
	strategies := make(map[cache.ResourceClass]Name, len(initial))
	for class, name := range initial {
		strategies[class] = name
	}

	return &Config{strategies: strategies}
}

// Config represents the mutable class to strategy mapping
// It lives for the worker's lifetime and is reset only on restart
type Config struct {
	m          sync.RWMutex
	strategies map[cache.ResourceClass]Name
}

// Resolve returns the configured strategy for a class,
// falling back to network-first when the class is unmapped
func (c *Config) Resolve(class cache.ResourceClass) Name {
	c.m.RLock()
	defer c.m.RUnlock()

	if name, ok := c.strategies[class]; ok {
		return name
	}

	return NetworkFirst
}

// Merge applies partial overrides to the mapping
// Unknown classes or strategy names are skipped with a warning
func (c *Config) Merge(overrides map[string]string) {
	known := make(map[cache.ResourceClass]bool)
	for _, class := range cache.Classes() {
		known[class] = true
	}

	c.m.Lock()
	defer c.m.Unlock()

	for classStr, nameStr := range overrides {
		class := cache.ResourceClass(classStr)
		if !known[class] {
			log.Warnf("ignoring strategy override for unknown class %q", classStr)
			continue
		}
		name, err := ParseName(nameStr)
		if err != nil {
			log.Warnf("ignoring strategy override for %s: %s", classStr, err)
			continue
		}
		c.strategies[class] = name
	}
}

// Snapshot returns a copy of the current mapping
func (c *Config) Snapshot() map[cache.ResourceClass]Name {
	c.m.RLock()
	defer c.m.RUnlock()

	out := make(map[cache.ResourceClass]Name, len(c.strategies))
	for class, name := range c.strategies {
		out[class] = name
	}

	return out
}
