package rbac

import (
	"errors"
	"strings"
	"sync"
)

// Catalog is the explicit registry of permission identifiers. An identifier
// ending in ":*" registers a prefix-wildcard grant; everything else is an
// exact permission. Registration happens during initialization; Freeze
// prevents later drift.
type Catalog struct {
	mu     sync.RWMutex
	perms  map[string]struct{}
	frozen bool
}

// NewCatalog creates an empty permission catalog.
func NewCatalog() *Catalog {
	return &Catalog{perms: make(map[string]struct{})}
}

// Register adds a permission identifier to the catalog.
func (c *Catalog) Register(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return errors.New("catalog frozen")
	}
	if name == "" {
		return errors.New("permission name cannot be empty")
	}
	if strings.Contains(name, "*") && !strings.HasSuffix(name, ":*") {
		return errors.New("wildcard permissions must end in \":*\"")
	}
	if _, exists := c.perms[name]; exists {
		return errors.New("permission already registered: " + name)
	}

	c.perms[name] = struct{}{}
	return nil
}

// RegisterAll registers each name, stopping at the first error.
func (c *Catalog) RegisterAll(names ...string) error {
	for _, name := range names {
		if err := c.Register(name); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether the identifier is registered.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.perms[name]
	return ok
}

// Freeze prevents further registrations.
func (c *Catalog) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Count returns the number of registered permissions.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.perms)
}
