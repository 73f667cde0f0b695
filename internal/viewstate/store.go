// Package viewstate holds the UI-selected parameters (time range, chart type,
// target id) that decide which series a chart widget requests.
package viewstate

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"agent-chart-lab/internal/domain"
)

var (
	// ErrUnsupportedModule signals a wiring bug: a caller asked for a module
	// the store was never configured with.
	ErrUnsupportedModule = errors.New("unsupported chart module")

	// ErrInvalidValue is returned when a setter receives an unknown enum value.
	ErrInvalidValue = errors.New("invalid view-state value")
)

// moduleConfig describes the defaults of one module.
type moduleConfig struct {
	source         domain.Source
	defaults       domain.ViewState
	fixedChartType bool
}

var moduleConfigs = map[domain.Module]moduleConfig{
	domain.ModuleMyVault: {
		source:   domain.SourceVaultBalance,
		defaults: domain.ViewState{TimeRange: domain.TimeRange7D, ChartType: domain.ChartTypePNL},
	},
	domain.ModuleVaultsDetail: {
		source:   domain.SourceVaultBalance,
		defaults: domain.ViewState{TimeRange: domain.TimeRange30D, ChartType: domain.ChartTypePNL},
	},
	// Strategies only report equity.
	domain.ModuleMyStrategy: {
		source:         domain.SourceStrategyBalance,
		defaults:       domain.ViewState{TimeRange: domain.TimeRange7D, ChartType: domain.ChartTypeEquity},
		fixedChartType: true,
	},
}

// Modules returns all supported module names in a stable order.
func Modules() []domain.Module {
	out := make([]domain.Module, 0, len(moduleConfigs))
	for m := range moduleConfigs {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Store owns one ModuleState per supported module. Widgets of the same
// module share its selection.
type Store struct {
	modules map[domain.Module]*ModuleState
}

// NewStore creates a store with every supported module at its defaults.
func NewStore() *Store {
	s := &Store{modules: make(map[domain.Module]*ModuleState, len(moduleConfigs))}
	for name := range moduleConfigs {
		st, _ := NewModuleState(name)
		s.modules[name] = st
	}
	return s
}

// Module returns the shared state of a module, or ErrUnsupportedModule.
func (s *Store) Module(name domain.Module) (*ModuleState, error) {
	st, ok := s.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModule, name)
	}
	return st, nil
}

// MustModule is Module for static wiring; it panics on an unsupported name.
func (s *Store) MustModule(name domain.Module) *ModuleState {
	st, err := s.Module(name)
	if err != nil {
		panic(err)
	}
	return st
}

// Snapshot returns the current view-state of every module.
func (s *Store) Snapshot() map[domain.Module]domain.ViewState {
	out := make(map[domain.Module]domain.ViewState, len(s.modules))
	for name, st := range s.modules {
		out[name] = st.Get()
	}
	return out
}

// Restore applies previously saved view-states. Unknown modules fail fast;
// invalid values inside a known module are skipped field by field.
func (s *Store) Restore(states map[domain.Module]domain.ViewState) error {
	for name, vs := range states {
		st, err := s.Module(name)
		if err != nil {
			return err
		}
		st.restore(vs)
	}
	return nil
}

// ModuleState is the view-state of one module. It is safe for concurrent use.
type ModuleState struct {
	name   domain.Module
	config moduleConfig

	mu        sync.RWMutex
	state     domain.ViewState
	listeners map[int]func(domain.ViewState)
	nextID    int
}

// NewModuleState creates a standalone state for one widget instance.
func NewModuleState(name domain.Module) (*ModuleState, error) {
	cfg, ok := moduleConfigs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModule, name)
	}
	return &ModuleState{
		name:      name,
		config:    cfg,
		state:     cfg.defaults,
		listeners: make(map[int]func(domain.ViewState)),
	}, nil
}

// Name returns the module name.
func (m *ModuleState) Name() domain.Module {
	return m.name
}

// FixedChartType reports whether SetChartType is ignored for this module.
func (m *ModuleState) FixedChartType() bool {
	return m.config.fixedChartType
}

// Get returns a copy of the current view-state.
func (m *ModuleState) Get() domain.ViewState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// TimeRange returns the selected time range.
func (m *ModuleState) TimeRange() domain.TimeRange {
	return m.Get().TimeRange
}

// ChartType returns the selected chart type.
func (m *ModuleState) ChartType() domain.ChartType {
	return m.Get().ChartType
}

// TargetID returns the selected vault or strategy id.
func (m *ModuleState) TargetID() string {
	return m.Get().TargetID
}

// SetTimeRange selects a time range.
func (m *ModuleState) SetTimeRange(r domain.TimeRange) error {
	if !r.IsValid() {
		return fmt.Errorf("%w: time range %q", ErrInvalidValue, r)
	}
	m.update(func(vs *domain.ViewState) { vs.TimeRange = r })
	return nil
}

// SetChartType selects a chart type. On fixed-chart-type modules it is a
// silent no-op.
func (m *ModuleState) SetChartType(c domain.ChartType) error {
	if !c.IsValid() {
		return fmt.Errorf("%w: chart type %q", ErrInvalidValue, c)
	}
	if m.config.fixedChartType {
		return nil
	}
	m.update(func(vs *domain.ViewState) { vs.ChartType = c })
	return nil
}

// SetTargetID selects the vault or strategy. Time range and chart type are
// left untouched.
func (m *ModuleState) SetTargetID(id string) {
	m.update(func(vs *domain.ViewState) { vs.TargetID = id })
}

// QueryKey returns the remote request the current selection maps to.
// It is the zero key while no target is selected.
func (m *ModuleState) QueryKey() domain.QueryKey {
	vs := m.Get()
	if vs.TargetID == "" {
		return domain.QueryKey{}
	}
	return domain.QueryKey{
		Source:    m.config.source,
		TargetID:  vs.TargetID,
		TimeRange: vs.TimeRange,
		ChartType: vs.ChartType,
	}
}

// OnChange registers fn to run after every change. The returned func
// unregisters it.
func (m *ModuleState) OnChange(fn func(domain.ViewState)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *ModuleState) restore(vs domain.ViewState) {
	m.update(func(cur *domain.ViewState) {
		if vs.TimeRange.IsValid() {
			cur.TimeRange = vs.TimeRange
		}
		if vs.ChartType.IsValid() && !m.config.fixedChartType {
			cur.ChartType = vs.ChartType
		}
		cur.TargetID = vs.TargetID
	})
}

// update applies fn and notifies listeners outside the lock when the state changed.
func (m *ModuleState) update(fn func(*domain.ViewState)) {
	m.mu.Lock()
	before := m.state
	fn(&m.state)
	after := m.state
	var listeners []func(domain.ViewState)
	if after != before {
		for _, l := range m.listeners {
			listeners = append(listeners, l)
		}
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(after)
	}
}
