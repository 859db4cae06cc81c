package repo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fabworks/wafersampler/pkg/strategy"
)

// LifecycleError reports an illegal state transition.
type LifecycleError struct {
	From   strategy.Lifecycle
	To     strategy.Lifecycle
	Reason string
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("repo: lifecycle violation %s -> %s: %s", e.From, e.To, e.Reason)
}

// promotions maps each state to its promote target.
var promotions = map[strategy.Lifecycle]strategy.Lifecycle{
	strategy.LifecycleDraft:    strategy.LifecycleReview,
	strategy.LifecycleReview:   strategy.LifecycleApproved,
	strategy.LifecycleApproved: strategy.LifecycleActive,
}

// Manager enforces the strategy lifecycle over a StrategyRepo: promotion
// order, the one-active-per-(processStep, toolType) rule, version bumps on
// mutation, and cloning.
type Manager struct {
	repo  StrategyRepo
	locks *keyLocks
	// compileCheck validates that a definition compiles cleanly; required
	// for draft -> review.
	compileCheck func(*strategy.Definition) error
}

// NewManager wires a manager over a repository. compileCheck may be nil to
// skip compilation gating (tests).
func NewManager(repo StrategyRepo, compileCheck func(*strategy.Definition) error) *Manager {
	return &Manager{repo: repo, locks: newKeyLocks(), compileCheck: compileCheck}
}

// Create stores a brand-new draft at version 1.0.0.
func (m *Manager) Create(ctx context.Context, def *strategy.Definition) (*strategy.Definition, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if def.Version == "" {
		def.Version = "1.0.0"
	}
	now := time.Now().UTC()
	def.CreatedAt = now
	def.ModifiedAt = now
	def.LifecycleState = strategy.LifecycleDraft
	if def.SchemaVersion == "" {
		def.SchemaVersion = "1.0"
	}

	m.locks.lock(def.ID)
	defer m.locks.unlock(def.ID)
	if err := m.repo.Put(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// Update replaces the mutable parts of a strategy. Editing a draft or
// review version stores the edit as a new, bumped version in the same
// state, leaving the previous version in place; mutating an
// approved-or-later version forks a new draft.
func (m *Manager) Update(ctx context.Context, id string, apply func(*strategy.Definition), bump BumpKind) (*strategy.Definition, error) {
	m.locks.lock(id)
	defer m.locks.unlock(id)

	cur, err := m.repo.Get(ctx, id, "")
	if err != nil {
		return nil, err
	}

	next := *cur
	apply(&next)
	next.ID = cur.ID
	next.Version = Bump(cur.Version, bump)
	next.ModifiedAt = time.Now().UTC()
	if cur.LifecycleState == strategy.LifecycleApproved ||
		cur.LifecycleState == strategy.LifecycleActive ||
		cur.LifecycleState == strategy.LifecycleDeprecated {
		next.LifecycleState = strategy.LifecycleDraft
		next.Reviewer = ""
	}

	if err := m.repo.Put(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// Promote advances the strategy one lifecycle step, enforcing the gating
// rules of each edge.
func (m *Manager) Promote(ctx context.Context, id, user string) (*strategy.Definition, error) {
	m.locks.lock(id)
	defer m.locks.unlock(id)

	cur, err := m.repo.Get(ctx, id, "")
	if err != nil {
		return nil, err
	}

	next, ok := promotions[cur.LifecycleState]
	if !ok {
		return nil, &LifecycleError{
			From:   cur.LifecycleState,
			To:     cur.LifecycleState,
			Reason: "state has no promotion edge",
		}
	}

	switch next {
	case strategy.LifecycleReview:
		if len(cur.Rules) == 0 {
			return nil, &LifecycleError{From: cur.LifecycleState, To: next, Reason: "strategy has no rules"}
		}
		if m.compileCheck != nil {
			if err := m.compileCheck(cur); err != nil {
				return nil, &LifecycleError{From: cur.LifecycleState, To: next,
					Reason: fmt.Sprintf("strategy does not compile: %v", err)}
			}
		}
	case strategy.LifecycleApproved:
		cur.Reviewer = user
	case strategy.LifecycleActive:
		if err := m.deprecatePriorActive(ctx, cur); err != nil {
			return nil, err
		}
	}

	cur.LifecycleState = next
	cur.ModifiedAt = time.Now().UTC()
	if err := m.repo.Put(ctx, cur); err != nil {
		return nil, err
	}
	return cur, nil
}

// deprecatePriorActive enforces the one-active-per-(processStep, toolType)
// invariant. Cross-strategy locks are taken in lexicographic id order to
// avoid deadlock; the caller already holds promoting's lock.
func (m *Manager) deprecatePriorActive(ctx context.Context, promoting *strategy.Definition) error {
	actives, err := m.repo.List(ctx, StrategyFilter{
		ProcessStep:    promoting.ProcessStep,
		ToolType:       promoting.ToolType,
		LifecycleState: strategy.LifecycleActive,
	})
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(actives))
	for _, a := range actives {
		if a.ID != promoting.ID {
			ids = append(ids, a.ID)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		m.locks.lock(id)
		prior, err := m.repo.Get(ctx, id, "")
		if err == nil && prior.LifecycleState == strategy.LifecycleActive {
			prior.LifecycleState = strategy.LifecycleDeprecated
			prior.ModifiedAt = time.Now().UTC()
			err = m.repo.Put(ctx, prior)
		}
		m.locks.unlock(id)
		if err != nil {
			if _, missing := err.(*ErrNotFound); !missing {
				return err
			}
		}
	}
	return nil
}

// Retract sends a review-or-approved strategy back to draft and clears
// the reviewer fields.
func (m *Manager) Retract(ctx context.Context, id string) (*strategy.Definition, error) {
	m.locks.lock(id)
	defer m.locks.unlock(id)

	cur, err := m.repo.Get(ctx, id, "")
	if err != nil {
		return nil, err
	}
	switch cur.LifecycleState {
	case strategy.LifecycleReview, strategy.LifecycleApproved:
	default:
		return nil, &LifecycleError{From: cur.LifecycleState, To: strategy.LifecycleDraft,
			Reason: "only review or approved strategies can be retracted"}
	}

	cur.LifecycleState = strategy.LifecycleDraft
	cur.Reviewer = ""
	cur.ModifiedAt = time.Now().UTC()
	if err := m.repo.Put(ctx, cur); err != nil {
		return nil, err
	}
	return cur, nil
}

// Deprecate retires any non-draft strategy; deprecated is terminal.
func (m *Manager) Deprecate(ctx context.Context, id string) (*strategy.Definition, error) {
	m.locks.lock(id)
	defer m.locks.unlock(id)

	cur, err := m.repo.Get(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if cur.LifecycleState == strategy.LifecycleDraft {
		return nil, &LifecycleError{From: cur.LifecycleState, To: strategy.LifecycleDeprecated,
			Reason: "draft strategies are deleted, not deprecated"}
	}

	cur.LifecycleState = strategy.LifecycleDeprecated
	cur.ModifiedAt = time.Now().UTC()
	if err := m.repo.Put(ctx, cur); err != nil {
		return nil, err
	}
	return cur, nil
}

// Clone deep-copies the latest version of a strategy into a new id at
// version 1.0.0, lifecycle draft.
func (m *Manager) Clone(ctx context.Context, id, newName, author string) (*strategy.Definition, error) {
	m.locks.lock(id)
	src, err := m.repo.Get(ctx, id, "")
	m.locks.unlock(id)
	if err != nil {
		return nil, err
	}

	cloned := *src
	cloned.ID = uuid.NewString()
	cloned.Name = newName
	cloned.Description = fmt.Sprintf("Cloned from %s", src.Name)
	cloned.Author = author
	cloned.Reviewer = ""
	cloned.Version = "1.0.0"
	cloned.Rules = append([]strategy.RuleConfig(nil), src.Rules...)
	return m.Create(ctx, &cloned)
}
