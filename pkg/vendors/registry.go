// Package vendors converts simulation results into the file formats fab
// metrology and lithography tools consume. Each emitter owns the
// translation from the engine's canonical center-origin, y-up coordinates
// into its vendor's convention.
package vendors

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fabworks/wafersampler/pkg/engine"
	"github.com/fabworks/wafersampler/pkg/validate"
)

// Meta carries the strategy context an export embeds alongside the sites.
type Meta struct {
	StrategyID   string
	StrategyName string
	Version      string
	WaferSize    string
	ProductType  string
	ProcessLayer string
	VendorParams map[string]string
}

// Emitter renders a simulation result as vendor-specific bytes.
type Emitter interface {
	// Name returns the registry key.
	Name() string
	// ContentType returns the media type of the emitted bytes.
	ContentType() string
	// Emit renders the result. The validation result is optional.
	Emit(res *engine.SimulationResult, meta Meta, val *validate.Result) ([]byte, error)
}

// ErrUnknownVendor is returned for lookups of unregistered names.
type ErrUnknownVendor struct {
	Name string
}

func (e *ErrUnknownVendor) Error() string {
	return fmt.Sprintf("vendors: unknown vendor plugin %q", e.Name)
}

// Registry maps vendor names to emitters, frozen before serving like the
// rule registry.
type Registry struct {
	mu       sync.Mutex
	frozen   bool
	emitters map[string]Emitter
}

// NewRegistry returns an empty vendor registry.
func NewRegistry() *Registry {
	return &Registry{emitters: make(map[string]Emitter)}
}

// RegisterBuiltins adds the ASML and KLA emitters.
func RegisterBuiltins(r *Registry) {
	r.Register(&ASML{})
	r.Register(&KLA{})
}

// Register adds an emitter under its name; duplicate or post-freeze
// registration panics.
func (r *Registry) Register(e Emitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("vendors: register %q after freeze", e.Name()))
	}
	if _, dup := r.emitters[e.Name()]; dup {
		panic(fmt.Sprintf("vendors: duplicate vendor %q", e.Name()))
	}
	r.emitters[e.Name()] = e
}

// Freeze forbids further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup resolves an emitter by name.
func (r *Registry) Lookup(name string) (Emitter, error) {
	if e, ok := r.emitters[name]; ok {
		return e, nil
	}
	return nil, &ErrUnknownVendor{Name: name}
}

// Has reports whether a name resolves; it matches the compiler's vendor
// check signature.
func (r *Registry) Has(name string) bool {
	_, ok := r.emitters[name]
	return ok
}

// Names lists the registered vendor names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.emitters))
	for name := range r.emitters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
