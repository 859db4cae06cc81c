package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fabworks/wafersampler/pkg/wafer"
)

// Candidate is one die position proposed by a rule, with the rule-local
// priority in [0, 1].
type Candidate struct {
	X        int
	Y        int
	Priority float64
}

// Estimate is a rule's self-reported execution cost, used by the engine
// for early warnings.
type Estimate struct {
	ExpectedPointCount int
	CostClass          CostClass
}

// CostClass buckets a rule's expected execution cost.
type CostClass string

const (
	CostLow    CostClass = "low"
	CostMedium CostClass = "medium"
	CostHigh   CostClass = "high"
)

// Rule is a pluggable sampling algorithm. Implementations are pure
// functions of their inputs and deterministic given the same seed.
type Rule interface {
	// Name returns the registry key.
	Name() string
	// Validate checks the free-form parameter map and returns the typed
	// parameter value Apply expects.
	Validate(params map[string]any) (any, error)
	// Apply proposes candidates over the wafer. Priorities are local to
	// the rule; the engine normalizes across rules via weights.
	Apply(w *wafer.Map, params any, ctx ExecContext) []Candidate
	// Estimate predicts the rule's output size and cost class.
	Estimate(w *wafer.Map) Estimate
}

// ErrUnknownPlugin is returned for lookups of unregistered names.
type ErrUnknownPlugin struct {
	Kind string
	Name string
}

func (e *ErrUnknownPlugin) Error() string {
	return fmt.Sprintf("strategy: unknown %s plugin %q", e.Kind, e.Name)
}

// RuleRegistry maps rule names to implementations. Registration happens
// during process bootstrap; Freeze locks the registry before the server
// starts serving, after which lookups take no lock.
type RuleRegistry struct {
	mu     sync.Mutex
	frozen bool
	rules  map[string]Rule
}

// NewRuleRegistry returns an empty registry.
func NewRuleRegistry() *RuleRegistry {
	return &RuleRegistry{rules: make(map[string]Rule)}
}

// Register adds a rule under its name. Registering after Freeze or
// reusing a name is a programming error and panics.
func (r *RuleRegistry) Register(rule Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("strategy: register %q after freeze", rule.Name()))
	}
	if _, dup := r.rules[rule.Name()]; dup {
		panic(fmt.Sprintf("strategy: duplicate rule %q", rule.Name()))
	}
	r.rules[rule.Name()] = rule
}

// Freeze forbids further registration. Call before serving requests.
func (r *RuleRegistry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup resolves a rule by name.
func (r *RuleRegistry) Lookup(name string) (Rule, error) {
	if rule, ok := r.rules[name]; ok {
		return rule, nil
	}
	return nil, &ErrUnknownPlugin{Kind: "rule", Name: name}
}

// Names lists the registered rule names, sorted.
func (r *RuleRegistry) Names() []string {
	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
