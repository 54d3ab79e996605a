package engine

import (
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// Vars is a layered variable store. A run owns the root layer; each loop
// iteration gets a child layer so writes inside the body do not leak into
// sibling iterations while reads still see the run scope.
type Vars struct {
	mu     sync.Mutex
	parent *Vars
	vals   map[string]cty.Value
}

// NewVars returns an empty root scope.
func NewVars() *Vars {
	return &Vars{vals: make(map[string]cty.Value)}
}

// Child returns a new scope layered on top of v.
func (v *Vars) Child() *Vars {
	return &Vars{parent: v, vals: make(map[string]cty.Value)}
}

// Set binds a name in this scope, shadowing any parent binding.
func (v *Vars) Set(name string, val cty.Value) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vals[name] = val
}

// Get resolves a name, walking up through parent scopes.
func (v *Vars) Get(name string) (cty.Value, bool) {
	v.mu.Lock()
	val, ok := v.vals[name]
	v.mu.Unlock()
	if ok {
		return val, true
	}
	if v.parent != nil {
		return v.parent.Get(name)
	}
	return cty.NilVal, false
}

// Locals returns a copy of the bindings made in this scope only.
func (v *Vars) Locals() map[string]cty.Value {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]cty.Value, len(v.vals))
	for k, val := range v.vals {
		out[k] = val
	}
	return out
}
