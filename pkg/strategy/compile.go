package strategy

import (
	"container/list"
	"fmt"
	"strings"
	"sync"
)

// CompileIssue is one problem found during compilation. RuleIndex is -1
// for strategy-level issues.
type CompileIssue struct {
	RuleIndex int    `json:"ruleIndex"`
	Field     string `json:"field,omitempty"`
	Message   string `json:"message"`
}

// CompileError aggregates every problem in a definition so a caller can
// surface all of them at once.
type CompileError struct {
	Issues []CompileIssue
}

func (e *CompileError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		if issue.RuleIndex >= 0 {
			msgs[i] = fmt.Sprintf("rule %d: %s", issue.RuleIndex, issue.Message)
		} else {
			msgs[i] = issue.Message
		}
	}
	return "strategy: compile failed: " + strings.Join(msgs, "; ")
}

// CompiledRule is one resolved, validated rule ready to execute.
type CompiledRule struct {
	Name       string
	Rule       Rule
	Params     any
	Weight     float64
	Conditions *ConditionalLogic
}

// Compiled is the immutable executable form of a strategy. Instances may
// be cached by (definition id, version).
type Compiled struct {
	DefinitionID string
	Name         string
	Version      string
	Rules        []CompiledRule
	Definition   *Definition
}

// Compile resolves and validates a definition against the rule registry.
// hasVendor reports whether a vendor name resolves; pass nil to skip the
// vendor check. Errors are aggregated, never fail-fast.
func Compile(def *Definition, rules *RuleRegistry, hasVendor func(string) bool) (*Compiled, error) {
	issues := def.Validate()

	var compiled []CompiledRule
	totalWeight := 0.0
	for i, rc := range def.Rules {
		if !rc.Enabled {
			continue
		}
		if rc.RuleType == "" {
			continue // already reported by Validate
		}
		rule, err := rules.Lookup(rc.RuleType)
		if err != nil {
			issues = append(issues, CompileIssue{RuleIndex: i, Field: "ruleType", Message: err.Error()})
			continue
		}
		params, err := rule.Validate(rc.Parameters)
		if err != nil {
			issues = append(issues, CompileIssue{RuleIndex: i, Field: "parameters", Message: err.Error()})
			continue
		}
		compiled = append(compiled, CompiledRule{
			Name:       rc.RuleType,
			Rule:       rule,
			Params:     params,
			Weight:     rc.Weight,
			Conditions: rc.Conditions,
		})
		totalWeight += rc.Weight
	}

	if len(def.Rules) > 0 && totalWeight <= 0 {
		issues = append(issues, CompileIssue{RuleIndex: -1, Field: "rules", Message: "total weight over enabled rules must be > 0"})
	}
	if def.TargetVendor != "" && hasVendor != nil && !hasVendor(def.TargetVendor) {
		issues = append(issues, CompileIssue{RuleIndex: -1, Field: "targetVendor",
			Message: (&ErrUnknownPlugin{Kind: "vendor", Name: def.TargetVendor}).Error()})
	}

	if len(issues) > 0 {
		return nil, &CompileError{Issues: issues}
	}

	return &Compiled{
		DefinitionID: def.ID,
		Name:         def.Name,
		Version:      def.Version,
		Rules:        compiled,
		Definition:   def,
	}, nil
}

// Cache is an LRU cache of compiled strategies keyed by (id, version).
// Entries are immutable once inserted; eviction is least-recently-used
// with a bounded size.
type Cache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*list.Element
	order   *list.List
}

type cacheEntry struct {
	key      string
	compiled *Compiled
}

// DefaultCacheSize bounds the compiled-strategy cache.
const DefaultCacheSize = 256

// NewCache creates a cache holding at most max entries; max <= 0 uses the
// default.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache{
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func cacheKey(id, version string) string {
	return id + "@" + version
}

// Get returns the cached compilation for (id, version), if present.
func (c *Cache) Get(id, version string) (*Compiled, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[cacheKey(id, version)]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).compiled, true
}

// Put inserts a compilation, evicting the least-recently-used entry when
// full.
func (c *Cache) Put(compiled *Compiled) {
	key := cacheKey(compiled.DefinitionID, compiled.Version)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, compiled: compiled})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}
