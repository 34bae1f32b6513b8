package index

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Manager owns the live set of calculators, keyed by index name, and is
// safe for concurrent use by the price updater and index tick loop.
type Manager struct {
	mu          sync.RWMutex
	calculators map[string]*Calculator
	defs        map[string]Definition
}

// NewManager creates an empty calculator manager.
func NewManager() *Manager {
	return &Manager{
		calculators: make(map[string]*Calculator),
		defs:        make(map[string]Definition),
	}
}

// AddCalculator registers or replaces the calculator for def.Name.
// Replacing an existing calculator discards its price snapshot and
// sample history, since the formula it was built for may have changed.
func (m *Manager) AddCalculator(def Definition, exceptionMargin decimal.Decimal) *Calculator {
	c := NewCalculator(def.Name, exceptionMargin)
	m.mu.Lock()
	m.calculators[def.Name] = c
	m.defs[def.Name] = def
	m.mu.Unlock()
	return c
}

// RemoveCalculator drops a calculator, e.g. when its definition is
// deactivated.
func (m *Manager) RemoveCalculator(name string) {
	m.mu.Lock()
	delete(m.calculators, name)
	delete(m.defs, name)
	m.mu.Unlock()
}

// Get returns the calculator and definition for name, if registered.
func (m *Manager) Get(name string) (*Calculator, Definition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calculators[name]
	if !ok {
		return nil, Definition{}, false
	}
	return c, m.defs[name], true
}

// Calculators returns a snapshot of all registered calculators, keyed by
// index name. Use Get or Definitions for the definitions.
func (m *Manager) Calculators() map[string]*Calculator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Calculator, len(m.calculators))
	for name, c := range m.calculators {
		out[name] = c
	}
	return out
}

// Definitions returns a snapshot of all registered index definitions.
func (m *Manager) Definitions() []Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Definition, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, d)
	}
	return out
}
