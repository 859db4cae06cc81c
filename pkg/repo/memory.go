package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/fabworks/wafersampler/pkg/schematic"
	"github.com/fabworks/wafersampler/pkg/strategy"
	"github.com/fabworks/wafersampler/pkg/validate"
)

// keyLocks hands out one mutex per aggregate id so writes to different
// strategies never contend.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyLocks) lock(id string) {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()
	m.Lock()
}

func (k *keyLocks) unlock(id string) {
	k.mu.Lock()
	m := k.locks[id]
	k.mu.Unlock()
	m.Unlock()
}

// NewMemoryStore bundles in-memory implementations of the three
// repositories. Readers always get copies, so a stored value never
// observes a caller's later mutation and vice versa.
func NewMemoryStore() *Store {
	return &Store{
		Strategies:  newMemoryStrategies(),
		Schematics:  newMemorySchematics(),
		Validations: newMemoryValidations(),
	}
}

// cloneDefinition deep-copies a definition so stored and returned values
// share no mutable state.
func cloneDefinition(d *strategy.Definition) *strategy.Definition {
	c := *d
	c.Rules = make([]strategy.RuleConfig, len(d.Rules))
	for i, r := range d.Rules {
		c.Rules[i] = cloneRule(r)
	}
	if d.GlobalConditions != nil {
		gc := cloneConditions(d.GlobalConditions)
		c.GlobalConditions = gc
	}
	if d.Transformations != nil {
		t := *d.Transformations
		c.Transformations = &t
	}
	c.VendorSpecificParams = cloneStringMap(d.VendorSpecificParams)
	return &c
}

func cloneRule(r strategy.RuleConfig) strategy.RuleConfig {
	c := r
	if r.Parameters != nil {
		c.Parameters = make(map[string]any, len(r.Parameters))
		for k, v := range r.Parameters {
			c.Parameters[k] = v
		}
	}
	if r.Conditions != nil {
		c.Conditions = cloneConditions(r.Conditions)
	}
	return c
}

func cloneConditions(c *strategy.ConditionalLogic) *strategy.ConditionalLogic {
	cc := *c
	if c.DefectDensityThreshold != nil {
		v := *c.DefectDensityThreshold
		cc.DefectDensityThreshold = &v
	}
	cc.CustomConditions = cloneStringMap(c.CustomConditions)
	return &cc
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// strategyRecord holds every stored version of one strategy plus the
// current-version pointer.
type strategyRecord struct {
	versions map[string]*strategy.Definition
	order    []string
	current  string
}

type memoryStrategies struct {
	mu      sync.RWMutex
	records map[string]*strategyRecord
}

func newMemoryStrategies() *memoryStrategies {
	return &memoryStrategies{records: make(map[string]*strategyRecord)}
}

func (s *memoryStrategies) Put(_ context.Context, def *strategy.Definition) error {
	stored := cloneDefinition(def)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[def.ID]
	if !ok {
		rec = &strategyRecord{versions: make(map[string]*strategy.Definition)}
		s.records[def.ID] = rec
	}
	if _, exists := rec.versions[def.Version]; !exists {
		rec.order = append(rec.order, def.Version)
	}
	rec.versions[def.Version] = stored
	rec.current = def.Version
	return nil
}

func (s *memoryStrategies) Get(_ context.Context, id, version string) (*strategy.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, &ErrNotFound{Kind: "strategy", ID: id}
	}
	if version == "" {
		version = rec.current
	}
	def, ok := rec.versions[version]
	if !ok {
		return nil, &ErrNotFound{Kind: "strategy version", ID: id + "@" + version}
	}
	return cloneDefinition(def), nil
}

func (s *memoryStrategies) Versions(_ context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, &ErrNotFound{Kind: "strategy", ID: id}
	}
	versions := append([]string(nil), rec.order...)
	sort.Slice(versions, func(i, j int) bool {
		return CompareVersions(versions[i], versions[j]) < 0
	})
	return versions, nil
}

func (s *memoryStrategies) List(_ context.Context, f StrategyFilter) ([]*strategy.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*strategy.Definition
	for _, rec := range s.records {
		def := rec.versions[rec.current]
		if f.Matches(def) {
			out = append(out, cloneDefinition(def))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStrategies) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return &ErrNotFound{Kind: "strategy", ID: id}
	}
	delete(s.records, id)
	return nil
}

type schematicRecord struct {
	data      *schematic.Data
	file      []byte
	createdBy string
}

type memorySchematics struct {
	mu      sync.RWMutex
	records map[string]*schematicRecord
}

func newMemorySchematics() *memorySchematics {
	return &memorySchematics{records: make(map[string]*schematicRecord)}
}

func cloneSchematic(d *schematic.Data) *schematic.Data {
	c := *d
	c.Dies = append([]schematic.DieBoundary(nil), d.Dies...)
	return &c
}

func (s *memorySchematics) Put(_ context.Context, data *schematic.Data, fileBytes []byte, createdBy string) error {
	rec := &schematicRecord{
		data:      cloneSchematic(data),
		file:      append([]byte(nil), fileBytes...),
		createdBy: createdBy,
	}
	s.mu.Lock()
	s.records[data.ID] = rec
	s.mu.Unlock()
	return nil
}

func (s *memorySchematics) Get(_ context.Context, id string) (*schematic.Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, &ErrNotFound{Kind: "schematic", ID: id}
	}
	return cloneSchematic(rec.data), nil
}

func (s *memorySchematics) FileBytes(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, &ErrNotFound{Kind: "schematic", ID: id}
	}
	return append([]byte(nil), rec.file...), nil
}

func (s *memorySchematics) List(_ context.Context) ([]*schematic.Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schematic.Data, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneSchematic(rec.data))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadDate.Equal(out[j].UploadDate) {
			return out[i].UploadDate.Before(out[j].UploadDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memorySchematics) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return &ErrNotFound{Kind: "schematic", ID: id}
	}
	delete(s.records, id)
	return nil
}

type memoryValidations struct {
	mu      sync.RWMutex
	records map[string]*validate.Result
}

func newMemoryValidations() *memoryValidations {
	return &memoryValidations{records: make(map[string]*validate.Result)}
}

func cloneValidation(r *validate.Result) *validate.Result {
	c := *r
	c.Conflicts = append([]validate.Conflict(nil), r.Conflicts...)
	c.Warnings = append([]string(nil), r.Warnings...)
	c.Recommendations = append([]string(nil), r.Recommendations...)
	return &c
}

func (s *memoryValidations) Put(_ context.Context, res *validate.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.records[res.ID]; dup {
		return &ErrConflict{Kind: "validation", ID: res.ID}
	}
	s.records[res.ID] = cloneValidation(res)
	return nil
}

func (s *memoryValidations) Get(_ context.Context, id string) (*validate.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.records[id]
	if !ok {
		return nil, &ErrNotFound{Kind: "validation", ID: id}
	}
	return cloneValidation(res), nil
}

func (s *memoryValidations) List(_ context.Context, f ValidationFilter) ([]*validate.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*validate.Result
	for _, res := range s.records {
		if f.SchematicID != "" && res.SchematicID != f.SchematicID {
			continue
		}
		if f.StrategyID != "" && res.StrategyID != f.StrategyID {
			continue
		}
		out = append(out, cloneValidation(res))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ValidationDate.Equal(out[j].ValidationDate) {
			return out[i].ValidationDate.Before(out[j].ValidationDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
