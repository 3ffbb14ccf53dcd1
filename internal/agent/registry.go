package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/agentcore/internal/platform/apperr"
	"github.com/kandev/agentcore/internal/platform/logger"
)

// Registry owns the full set of AgentInstances, indexed both by id and
// by type, exactly as spec.md §4.2 requires: the two indices are
// updated atomically under a single write lock so no observer ever
// sees an instance present in one but absent from the other.
type Registry struct {
	events EventPublisher
	log    *logger.Logger

	mu       sync.RWMutex
	byID     map[string]*Instance
	byType   map[Type]map[string]*Instance
	hooksFor map[Type]Hooks
}

// NewRegistry constructs an empty Registry. hooksFor supplies the
// do_start/do_stop bodies used for each newly registered agent of a
// given type; a missing entry defaults to the no-op Hooks.
func NewRegistry(events EventPublisher, hooksFor map[Type]Hooks, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	if hooksFor == nil {
		hooksFor = map[Type]Hooks{}
	}
	return &Registry{
		events:   events,
		log:      log.With(zap.String("component", "agent-registry")),
		byID:     make(map[string]*Instance),
		byType:   make(map[Type]map[string]*Instance),
		hooksFor: hooksFor,
	}
}

// Register creates a new Instance of the given type and adds it to
// both indices atomically.
func (r *Registry) Register(agentType Type, cfg Config) *Instance {
	inst := NewInstance(agentType, cfg, r.hooksFor[agentType], r.events, r.log)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[inst.ID()] = inst
	if r.byType[agentType] == nil {
		r.byType[agentType] = make(map[string]*Instance)
	}
	r.byType[agentType][inst.ID()] = inst
	return inst
}

// Unregister stops the instance (tolerating an already-stopped
// instance) then removes it from both indices. Unknown ids are
// reported as NotFound.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	inst, err := r.Get(id)
	if err != nil {
		return err
	}

	if err := inst.Stop(ctx); err != nil && !apperr.Is(err, apperr.CodeInvalidState) {
		r.log.Warn("error stopping agent during unregister", zap.String("agent_id", id), zap.Error(err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	if m, ok := r.byType[inst.Type()]; ok {
		delete(m, id)
	}
	return nil
}

// Get returns the instance for id, or NotFound.
func (r *Registry) Get(id string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("agent", id)
	}
	return inst, nil
}

// ByType returns every registered instance of the given type.
func (r *Registry) ByType(t Type) []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.byType[t]))
	for _, inst := range r.byType[t] {
		out = append(out, inst)
	}
	return out
}

// RunningByType returns every Running instance of the given type, used
// by the orchestrator's round-robin dispatch.
func (r *Registry) RunningByType(t Type) []*Instance {
	all := r.ByType(t)
	out := make([]*Instance, 0, len(all))
	for _, inst := range all {
		if inst.State() == StateRunning {
			out = append(out, inst)
		}
	}
	return out
}

// Start starts a single agent by id.
func (r *Registry) Start(ctx context.Context, id string) error {
	inst, err := r.Get(id)
	if err != nil {
		return err
	}
	return inst.Start(ctx)
}

// Stop stops a single agent by id.
func (r *Registry) Stop(ctx context.Context, id string) error {
	inst, err := r.Get(id)
	if err != nil {
		return err
	}
	return inst.Stop(ctx)
}

// Restart restarts a single agent by id.
func (r *Registry) Restart(ctx context.Context, id string) error {
	inst, err := r.Get(id)
	if err != nil {
		return err
	}
	return inst.Restart(ctx)
}

// UpdateConfig hot-updates a single agent's config.
func (r *Registry) UpdateConfig(id string, cfg Config) error {
	inst, err := r.Get(id)
	if err != nil {
		return err
	}
	inst.UpdateConfig(cfg)
	return nil
}

// allIDs is a package-private snapshot helper shared by StartAll/StopAll.
func (r *Registry) allIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	return ids
}

// StartAll starts every registered agent concurrently via errgroup,
// continuing past individual failures per spec.md §4.2: each goroutine
// records its own error into the returned map rather than aborting the
// sweep.
func (r *Registry) StartAll(ctx context.Context) map[string]error {
	return r.sweep(ctx, (*Instance).Start)
}

// StopAll stops every registered agent concurrently, with the same
// continue-on-error contract as StartAll.
func (r *Registry) StopAll(ctx context.Context) map[string]error {
	return r.sweep(ctx, (*Instance).Stop)
}

func (r *Registry) sweep(ctx context.Context, op func(*Instance, context.Context) error) map[string]error {
	ids := r.allIDs()
	results := make(map[string]error, len(ids))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			inst, err := r.Get(id)
			if err != nil {
				resultsMu.Lock()
				results[id] = err
				resultsMu.Unlock()
				return nil
			}
			err = op(inst, gctx)
			resultsMu.Lock()
			results[id] = err
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// HealthAll returns a health snapshot for every registered instance.
func (r *Registry) HealthAll() []Health {
	r.mu.RLock()
	instances := make([]*Instance, 0, len(r.byID))
	for _, inst := range r.byID {
		instances = append(instances, inst)
	}
	r.mu.RUnlock()

	out := make([]Health, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.Health())
	}
	return out
}

// HealthByType returns health snapshots for every instance of t.
func (r *Registry) HealthByType(t Type) []Health {
	instances := r.ByType(t)
	out := make([]Health, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.Health())
	}
	return out
}

// Count returns the total number of registered instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// CountByType returns the number of registered instances of t.
func (r *Registry) CountByType(t Type) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType[t])
}
