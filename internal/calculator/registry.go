// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package calculator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/propeval/propeval/internal/property"
)

// ErrInvalidCalculatorName indicates the calculator name is empty.
var ErrInvalidCalculatorName = errors.New("calculator name cannot be empty")

// ErrDuplicateCalculator indicates a calculator with the same name already exists.
var ErrDuplicateCalculator = errors.New("calculator already registered")

// Predeployed is a calculator implemented in Go and referenced from a script
// of plugin type PREDEPLOYED by name.
type Predeployed struct {
	Name        string
	Description string
	Calculator  Calculator
}

// Registry manages predeployed calculators.
// It is safe for concurrent use by multiple goroutines.
type Registry struct {
	mu          sync.RWMutex
	calculators map[string]Predeployed
}

var (
	sharedRegistryOnce sync.Once
	sharedRegistry     *Registry
)

// NewRegistry creates an empty calculator registry.
func NewRegistry() *Registry {
	return &Registry{calculators: make(map[string]Predeployed)}
}

// Register adds a predeployed calculator. Names are matched case-insensitively.
// Returns ErrInvalidCalculatorName for empty names and ErrDuplicateCalculator on duplicates.
func (r *Registry) Register(p Predeployed) error {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		return ErrInvalidCalculatorName
	}
	if p.Calculator == nil {
		return errors.New("calculator cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.calculators[name]; exists {
		return ErrDuplicateCalculator
	}
	if r.calculators == nil {
		r.calculators = make(map[string]Predeployed)
	}
	p.Name = name
	r.calculators[name] = p
	return nil
}

// MustRegister adds a calculator, panicking on error.
// This is intended for package initialization only.
func (r *Registry) MustRegister(p Predeployed) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Lookup returns the calculator registered under name.
func (r *Registry) Lookup(name string) (Predeployed, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.calculators[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// List returns all registered calculators sorted by name.
func (r *Registry) List() []Predeployed {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Predeployed, 0, len(r.calculators))
	for _, p := range r.calculators {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// RegisteredNames returns the names of all registered calculators, sorted.
func (r *Registry) RegisteredNames() []string {
	list := r.List()
	names := make([]string, 0, len(list))
	for _, p := range list {
		names = append(names, p.Name)
	}
	return names
}

// Compile resolves a PREDEPLOYED script: the script body is the calculator name.
func (r *Registry) Compile(script *property.Script) (Calculator, error) {
	p, ok := r.Lookup(script.Body)
	if !ok {
		return nil, NewScriptError(script.Body, 0, fmt.Errorf("no predeployed calculator named '%s'", strings.TrimSpace(script.Body)))
	}
	return p.Calculator, nil
}

// DefaultRegistry returns a registry with the built-in calculators registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(Predeployed{
		Name:        "code",
		Description: "Returns the code of the entity.",
		Calculator: CalculatorFunc(func(_ context.Context, e EntityAdaptor) (string, error) {
			return e.Code(), nil
		}),
	})
	r.MustRegister(Predeployed{
		Name:        "property-count",
		Description: "Returns the number of properties of the entity.",
		Calculator: CalculatorFunc(func(_ context.Context, e EntityAdaptor) (string, error) {
			return strconv.Itoa(len(e.Properties())), nil
		}),
	})
	r.MustRegister(Predeployed{
		Name:        "parent-codes",
		Description: "Returns the sorted, comma separated codes of the parents.",
		Calculator: CalculatorFunc(func(_ context.Context, e EntityAdaptor) (string, error) {
			return joinCodes(e.Parents()), nil
		}),
	})
	r.MustRegister(Predeployed{
		Name:        "child-codes",
		Description: "Returns the sorted, comma separated codes of the children.",
		Calculator: CalculatorFunc(func(_ context.Context, e EntityAdaptor) (string, error) {
			return joinCodes(e.Children()), nil
		}),
	})
	return r
}

// SharedRegistry returns a shared default registry instance.
func SharedRegistry() *Registry {
	sharedRegistryOnce.Do(func() {
		sharedRegistry = DefaultRegistry()
	})
	return sharedRegistry
}

func joinCodes(entities []EntityAdaptor) string {
	codes := make([]string, 0, len(entities))
	for _, e := range entities {
		codes = append(codes, e.Code())
	}
	sort.Strings(codes)
	return strings.Join(codes, ", ")
}
