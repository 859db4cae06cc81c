// Package strategy defines declarative sampling strategies, the rule
// plugin contract and registry, and the compiler that turns a definition
// into an executable form.
package strategy

import (
	"time"

	"github.com/fabworks/wafersampler/pkg/geometry"
)

// Type classifies a strategy for filtering and display. The classification
// does not constrain which rules the strategy carries.
type Type string

const (
	TypeFixedPoint      Type = "fixedPoint"
	TypeCenterEdge      Type = "centerEdge"
	TypeUniformGrid     Type = "uniformGrid"
	TypeRandomSampling  Type = "randomSampling"
	TypeHotspotPriority Type = "hotspotPriority"
	TypeAdaptive        Type = "adaptive"
	TypeCustom          Type = "custom"
)

// Lifecycle is the review state of a strategy version.
type Lifecycle string

const (
	LifecycleDraft      Lifecycle = "draft"
	LifecycleReview     Lifecycle = "review"
	LifecycleApproved   Lifecycle = "approved"
	LifecycleActive     Lifecycle = "active"
	LifecycleDeprecated Lifecycle = "deprecated"
)

// ConditionalLogic gates a rule or a whole strategy on the execution
// context. An unset field means "don't care".
type ConditionalLogic struct {
	WaferSize              string            `json:"waferSize,omitempty"`
	ProductType            string            `json:"productType,omitempty"`
	ProcessLayer           string            `json:"processLayer,omitempty"`
	DefectDensityThreshold *float64          `json:"defectDensityThreshold,omitempty"`
	CustomConditions       map[string]string `json:"customConditions,omitempty"`
}

// Matches reports whether every set condition is satisfied by the context.
func (c *ConditionalLogic) Matches(ctx ExecContext) bool {
	if c == nil {
		return true
	}
	if c.WaferSize != "" && c.WaferSize != ctx.WaferSize {
		return false
	}
	if c.ProductType != "" && c.ProductType != ctx.ProductType {
		return false
	}
	if c.ProcessLayer != "" && c.ProcessLayer != ctx.ProcessLayer {
		return false
	}
	if c.DefectDensityThreshold != nil && ctx.DefectDensity < *c.DefectDensityThreshold {
		return false
	}
	for k, want := range c.CustomConditions {
		if got, ok := ctx.ProcessParams[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// RuleConfig is one rule inside a strategy: the plugin name, its free-form
// parameters, and how its output is weighted against the other rules.
type RuleConfig struct {
	RuleType   string            `json:"ruleType"`
	Parameters map[string]any    `json:"parameters,omitempty"`
	Weight     float64           `json:"weight"`
	Enabled    bool              `json:"enabled"`
	Conditions *ConditionalLogic `json:"conditions,omitempty"`
}

// Definition is the user-authored strategy template: the source of truth
// that gets stored, versioned, and edited.
type Definition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	StrategyType Type   `json:"strategyType"`
	ProcessStep  string `json:"processStep"`
	ToolType     string `json:"toolType"`

	Rules            []RuleConfig        `json:"rules"`
	GlobalConditions *ConditionalLogic   `json:"globalConditions,omitempty"`
	Transformations  *geometry.Transform `json:"transformations,omitempty"`

	TargetVendor         string            `json:"targetVendor,omitempty"`
	VendorSpecificParams map[string]string `json:"vendorSpecificParams,omitempty"`

	Version        string    `json:"version"`
	Author         string    `json:"author"`
	CreatedAt      time.Time `json:"createdAt"`
	ModifiedAt     time.Time `json:"modifiedAt"`
	LifecycleState Lifecycle `json:"lifecycleState"`
	Reviewer       string    `json:"reviewer,omitempty"`
	SchemaVersion  string    `json:"schemaVersion"`
}

// ExecContext is the runtime environment a strategy executes in: the
// process conditions rules are gated on plus the tool constraints the
// engine enforces.
type ExecContext struct {
	WaferSize     string            `json:"waferSize,omitempty"`
	ProductType   string            `json:"productType,omitempty"`
	ProcessLayer  string            `json:"processLayer,omitempty"`
	DefectDensity float64           `json:"defectDensity,omitempty"`
	ProcessParams map[string]string `json:"processParams,omitempty"`

	ToolConstraints ToolConstraints `json:"toolConstraints"`

	// Seed drives deterministic sampling. Zero means unset; the engine
	// derives one from the strategy identity.
	Seed int64 `json:"seed,omitempty"`
}

// ToolConstraints are the metrology tool's physical limits on a site list.
type ToolConstraints struct {
	// MaxSites truncates the ranked site list. Nil means unconstrained; an
	// explicit zero is infeasible and yields an empty result.
	MaxSites *int `json:"maxSites,omitempty"`
	// MinSpacing rejects sites closer than this to an already-kept site.
	MinSpacing float64 `json:"minSpacing,omitempty"`
}

// Validate checks the definition's own shape, independent of plugin
// resolution. Returned issues use rule index -1 for strategy-level
// problems.
func (d *Definition) Validate() []CompileIssue {
	var issues []CompileIssue
	if d.Name == "" {
		issues = append(issues, CompileIssue{RuleIndex: -1, Field: "name", Message: "name is required"})
	}
	if d.StrategyType == "" {
		issues = append(issues, CompileIssue{RuleIndex: -1, Field: "strategyType", Message: "strategy type is required"})
	}
	for i, r := range d.Rules {
		if r.RuleType == "" {
			issues = append(issues, CompileIssue{RuleIndex: i, Field: "ruleType", Message: "rule type is required"})
		}
		if r.Weight < 0 {
			issues = append(issues, CompileIssue{RuleIndex: i, Field: "weight", Message: "weight must be >= 0"})
		}
	}
	if d.Transformations != nil {
		if err := d.Transformations.Validate(); err != nil {
			issues = append(issues, CompileIssue{RuleIndex: -1, Field: "transformations", Message: err.Error()})
		}
	}
	return issues
}
