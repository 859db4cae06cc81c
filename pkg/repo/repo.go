// Package repo persists the three aggregates the engine owns: strategies
// (versioned), schematics (immutable after ingestion), and validation
// results (append-only). The interfaces prescribe behavior, not backend;
// in-memory and SQLite implementations ship here.
package repo

import (
	"context"
	"fmt"

	"github.com/fabworks/wafersampler/pkg/schematic"
	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/validate"
)

// ErrNotFound reports a missing aggregate.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("repo: %s %q not found", e.Kind, e.ID)
}

// ErrConflict reports a write that would overwrite an append-only record.
type ErrConflict struct {
	Kind string
	ID   string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("repo: %s %q already stored", e.Kind, e.ID)
}

// StrategyFilter narrows a strategy listing. Empty fields match anything.
type StrategyFilter struct {
	Author         string
	StrategyType   strategy.Type
	ProcessStep    string
	ToolType       string
	LifecycleState strategy.Lifecycle
}

// Matches applies the filter to a definition.
func (f StrategyFilter) Matches(d *strategy.Definition) bool {
	if f.Author != "" && d.Author != f.Author {
		return false
	}
	if f.StrategyType != "" && d.StrategyType != f.StrategyType {
		return false
	}
	if f.ProcessStep != "" && d.ProcessStep != f.ProcessStep {
		return false
	}
	if f.ToolType != "" && d.ToolType != f.ToolType {
		return false
	}
	if f.LifecycleState != "" && d.LifecycleState != f.LifecycleState {
		return false
	}
	return true
}

// StrategyRepo stores strategy definitions by (id, version) with a
// current-version pointer per id. Writers never mutate stored values;
// readers get copies under snapshot semantics.
type StrategyRepo interface {
	// Put stores the definition under (def.ID, def.Version) and moves the
	// current pointer to it.
	Put(ctx context.Context, def *strategy.Definition) error
	// Get returns the named version, or the current one when version is
	// empty.
	Get(ctx context.Context, id, version string) (*strategy.Definition, error)
	// Versions lists the stored versions of a strategy, oldest first.
	Versions(ctx context.Context, id string) ([]string, error)
	// List returns the current version of every strategy matching the
	// filter.
	List(ctx context.Context, f StrategyFilter) ([]*strategy.Definition, error)
	// Delete removes a strategy and all its versions.
	Delete(ctx context.Context, id string) error
}

// SchematicRepo stores parsed schematics and their original upload bytes.
// The parsed body is immutable; replace, don't edit.
type SchematicRepo interface {
	Put(ctx context.Context, data *schematic.Data, fileBytes []byte, createdBy string) error
	Get(ctx context.Context, id string) (*schematic.Data, error)
	// FileBytes returns the original uploaded file.
	FileBytes(ctx context.Context, id string) ([]byte, error)
	List(ctx context.Context) ([]*schematic.Data, error)
	Delete(ctx context.Context, id string) error
}

// ValidationFilter narrows a validation listing.
type ValidationFilter struct {
	SchematicID string
	StrategyID  string
}

// ValidationRepo stores validation results append-only. The listing index
// is eventually consistent; address results by id for read-after-write.
type ValidationRepo interface {
	Put(ctx context.Context, res *validate.Result) error
	Get(ctx context.Context, id string) (*validate.Result, error)
	List(ctx context.Context, f ValidationFilter) ([]*validate.Result, error)
}

// Store bundles the three repositories one backend provides.
type Store struct {
	Strategies  StrategyRepo
	Schematics  SchematicRepo
	Validations ValidationRepo
}
