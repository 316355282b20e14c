package device

import (
	"fmt"
	"strings"
)

// Role separates the software modules of the rig from its hardware.
// Shutdown stops every module before any hardware.
type Role int

const (
	// Module is a software-only component: timer, controller, logger
	Module Role = iota

	// Hardware is a component that fronts an instrument, or a sensor on one
	Hardware
)

type entry struct {
	c    Component
	role Role
}

// Registry maps logical device names to components.  It is populated during
// setup, then sealed; after Seal it is read-only and safe for concurrent use.
type Registry struct {
	byName map[string]entry
	order  []string
	sealed bool
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{byName: map[string]entry{}}
}

// Register adds a component under its name.  Names are case-insensitive.
func (r *Registry) Register(c Component, role Role) error {
	if r.sealed {
		return ErrSealed
	}
	key := strings.ToUpper(c.Name())
	if _, ok := r.byName[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, c.Name())
	}
	r.byName[key] = entry{c: c, role: role}
	r.order = append(r.order, key)
	return nil
}

// Seal freezes the registry
func (r *Registry) Seal() {
	r.sealed = true
}

// Lookup returns the component registered under name
func (r *Registry) Lookup(name string) (Component, error) {
	e, ok := r.byName[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	return e.c, nil
}

// All returns every component in registration order
func (r *Registry) All() []Component {
	out := make([]Component, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byName[k].c)
	}
	return out
}

// ByRole returns the components with a given role in registration order
func (r *Registry) ByRole(role Role) []Component {
	var out []Component
	for _, k := range r.order {
		if e := r.byName[k]; e.role == role {
			out = append(out, e.c)
		}
	}
	return out
}

// Get looks up name and asserts the component to T
func Get[T Component](r *Registry, name string) (T, error) {
	var zero T
	c, err := r.Lookup(name)
	if err != nil {
		return zero, err
	}
	t, ok := c.(T)
	if !ok {
		return zero, fmt.Errorf("device %s is a %T, not a %T", name, c, zero)
	}
	return t, nil
}

// Health is one component's status, as reported by the supervisor
type Health struct {
	Name string `json:"name"`
	Status
}
