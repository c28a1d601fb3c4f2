package entity

import (
	"github.com/rotisserie/eris"
)

// Registry maps entity names to their implementations.
type Registry struct {
	entities map[string]Entity
	order    []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with all curated entities.
func NewRegistry() *Registry {
	r := &Registry{
		entities: make(map[string]Entity),
	}

	r.Register(Students{})
	r.Register(Courses{})
	r.Register(Assignments{})
	r.Register(Enrollments{})
	r.Register(Submissions{})
	r.Register(ActivityLogs{})

	return r
}

// Register adds an entity to the registry.
func (r *Registry) Register(e Entity) {
	name := e.Name()
	r.entities[name] = e
	r.order = append(r.order, name)
}

// Get returns an entity by name.
func (r *Registry) Get(name string) (Entity, error) {
	e, ok := r.entities[name]
	if !ok {
		return nil, eris.Errorf("entity: unknown entity %q", name)
	}
	return e, nil
}

// Select returns entities matching the given names, or all entities when
// names is empty, in registration order.
func (r *Registry) Select(names []string) ([]Entity, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	var result []Entity
	for _, name := range names {
		e, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

// ByStage returns the selected entities in the given stage, in
// registration order.
func ByStage(entities []Entity, stage Stage) []Entity {
	var result []Entity
	for _, e := range entities {
		if e.Stage() == stage {
			result = append(result, e)
		}
	}
	return result
}

// All returns all entities in registration order.
func (r *Registry) All() []Entity {
	result := make([]Entity, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.entities[name])
	}
	return result
}

// AllNames returns all registered entity names in registration order.
func (r *Registry) AllNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// RawTables returns the landing table for every registered entity.
func (r *Registry) RawTables() []string {
	out := make([]string, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entities[name].RawTable())
	}
	return out
}
