// Package modules defines the dependency-injection container and the
// interfaces every consensus task is built against. Tasks never hold a
// reference to another task's internal state directly; they declare which
// module interfaces they need and Core wires concrete implementations in
// at startup.
package modules

import (
	"fmt"
	"reflect"
)

// Module is implemented by anything that needs a reference to the Core
// container at wiring time (to pull out its own dependencies).
type Module interface {
	InitModule(mods *Core)
}

// Core is the dependency-injection container: a flat list of concrete
// module implementations, each looked up by interface type. It carries no
// consensus logic itself.
type Core struct {
	components []any
	built      bool
}

// NewCore returns an empty Core.
func NewCore() *Core { return &Core{} }

// Register adds concrete module implementations to the container. It does
// not yet call InitModule; that happens in Build, once every component is
// registered and Get/TryGet calls can therefore succeed regardless of
// registration order.
func (c *Core) Register(components ...any) {
	if c.built {
		panic("modules: Register called after Build")
	}
	c.components = append(c.components, components...)
}

// Build wires every registered Module by calling InitModule on it. It must
// be called exactly once, after every component has been Registered.
func (c *Core) Build() {
	if c.built {
		return
	}
	c.built = true
	for _, comp := range c.components {
		if m, ok := comp.(Module); ok {
			m.InitModule(c)
		}
	}
}

// Get resolves one or more interface-pointer targets against the
// registered components, panicking if any cannot be satisfied. Each
// argument must be a pointer to an interface-typed field, e.g.
// mods.Get(&cs.blockChain, &cs.crypto).
func (c *Core) Get(targets ...any) {
	for _, t := range targets {
		if !c.assign(t) {
			panic(fmt.Sprintf("modules: no component satisfies %s", reflect.TypeOf(t).Elem()))
		}
	}
}

// TryGet behaves like Get for a single target, but returns false instead
// of panicking when no component satisfies it. Used for optional
// dependencies (e.g. an optional DA module).
func (c *Core) TryGet(target any) bool {
	return c.assign(target)
}

func (c *Core) assign(target any) bool {
	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Ptr {
		panic("modules: Get/TryGet target must be a pointer")
	}
	elem := ptr.Elem()
	want := elem.Type()
	for _, comp := range c.components {
		v := reflect.ValueOf(comp)
		if v.Type().AssignableTo(want) {
			elem.Set(v)
			return true
		}
	}
	return false
}

// GetByType finds a component whose concrete type matches target's
// pointee type exactly (rather than by interface assignability), useful
// when a caller wants its own concrete type back out of the container
// (e.g. a test harness recovering the specific node it registered
// itself as).
func (c *Core) GetByType(target any) bool {
	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Ptr {
		panic("modules: GetByType target must be a pointer")
	}
	elem := ptr.Elem()
	want := elem.Type()
	for _, comp := range c.components {
		v := reflect.ValueOf(comp)
		if v.Type() == want {
			elem.Set(v)
			return true
		}
	}
	return false
}

// namedModules is a registry of named constructors, used to select a
// consensus.Rules (or other pluggable) implementation by configuration
// name, e.g. "chained" vs. "two-phase".
var namedModules = map[string]func() any{}

// RegisterNamed registers a constructor under name for later lookup via
// GetModule. Intended to be called from an implementation package's
// init(), mirroring the corpus's metrics registration convention.
func RegisterNamed(name string, ctor func() any) {
	namedModules[name] = ctor
}

// GetModule looks up a named constructor and type-asserts its result to
// T, returning ok=false if the name is unknown or the type doesn't match.
func GetModule[T any](name string) (t T, ok bool) {
	ctor, found := namedModules[name]
	if !found {
		return t, false
	}
	v, ok := ctor().(T)
	return v, ok
}
