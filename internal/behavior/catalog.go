package behavior

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownLogic is returned when a logic key has no definition.
var ErrUnknownLogic = errors.New("behavior: unknown logic key")

// Catalog maps logic keys to definitions. Reloads replace definitions while
// entities are spawning, so access is synchronized; entities keep the
// definition they resolved at spawn.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewCatalog registers defs, rejecting duplicate keys.
func NewCatalog(defs ...*Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]*Definition, len(defs))}
	for _, def := range defs {
		if err := c.Register(def); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds def; a key may be registered once.
func (c *Catalog) Register(def *Definition) error {
	if def == nil {
		return errors.New("behavior: nil definition")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.defs[def.Key()]; exists {
		return fmt.Errorf("behavior: logic key %q already registered", def.Key())
	}
	c.defs[def.Key()] = def
	return nil
}

// Put adds or replaces def and reports whether a definition was replaced.
func (c *Catalog) Put(def *Definition) bool {
	if def == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, replaced := c.defs[def.Key()]
	c.defs[def.Key()] = def
	return replaced
}

// Remove deletes key.
func (c *Catalog) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.defs, key)
}

// Lookup returns the definition registered under key.
func (c *Catalog) Lookup(key string) (*Definition, error) {
	if c == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownLogic, key)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[key]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownLogic, key)
	}
	return def, nil
}

// Keys returns the registered keys in lexical order.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.defs))
	for key := range c.defs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len reports the number of definitions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}
