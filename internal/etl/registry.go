package etl

import (
	"github.com/rotisserie/eris"

	"github.com/wxyc/discogs-cache/internal/schema"
)

// Registry holds the steps of one run in execution order.
type Registry struct {
	steps map[string]Step
	order []string
}

// deps is embedded by steps to declare their prerequisites.
type deps []string

func (d deps) Requires() []string { return append([]string(nil), d...) }

// NewRegistry creates a registry with the steps plan calls for.
func NewRegistry(plan Plan) *Registry {
	r := &Registry{steps: make(map[string]Step)}

	importDeps := deps{StepCreateSchema}
	if plan.Mode == FromRaw {
		r.Register(&convertXML{filtered: plan.Filter})
		if plan.Filter {
			r.Register(&filterCSV{deps: deps{StepConvertXML}})
			importDeps = append(importDeps, StepFilterCSV)
		} else {
			importDeps = append(importDeps, StepConvertXML)
		}
	}

	r.Register(&createSchema{})
	r.Register(&importCSV{deps: importDeps})
	r.Register(&createIndexes{deps: deps{StepImportCSV}, name: StepCreateIndexes, set: schema.BaseIndexes})
	r.Register(&dedupStep{deps: deps{StepCreateIndexes}})
	r.Register(&importTracks{deps: deps{StepDedup}})
	r.Register(&createIndexes{deps: deps{StepImportTracks}, name: StepCreateTrackIndexes, set: schema.TrackIndexes})

	last := StepCreateTrackIndexes
	if plan.Classify {
		r.Register(&classifyStep{deps: deps{StepCreateTrackIndexes}})
		r.Register(&finalizeStep{deps: deps{StepClassify}, plan: plan.Finalize})
		last = StepFinalize
	}
	r.Register(&vacuum{deps: deps{last}})

	return r
}

// Register appends a step.
func (r *Registry) Register(s Step) {
	name := s.Name()
	if _, ok := r.steps[name]; !ok {
		r.order = append(r.order, name)
	}
	r.steps[name] = s
}

// Get returns a step by name.
func (r *Registry) Get(name string) (Step, error) {
	s, ok := r.steps[name]
	if !ok {
		return nil, eris.Errorf("etl: unknown step %q", name)
	}
	return s, nil
}

// All returns every step in execution order.
func (r *Registry) All() []Step {
	out := make([]Step, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.steps[name])
	}
	return out
}

// Names returns step names in execution order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Downstream returns name and every step that depends on it, directly or
// not, in execution order.
func (r *Registry) Downstream(name string) ([]string, error) {
	if _, err := r.Get(name); err != nil {
		return nil, err
	}
	hit := map[string]bool{name: true}
	out := []string{name}
	for _, n := range r.order {
		if hit[n] {
			continue
		}
		for _, req := range r.steps[n].Requires() {
			if hit[req] {
				hit[n] = true
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}
