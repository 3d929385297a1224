package model

import "github.com/vk/medallion/internal/partition"

// Pipeline is an immutable, validated pipeline definition. Tasks are stored in
// a topological order; construct with NewPipeline.
type Pipeline struct {
	Name string
	// Sources are the watermark sources this pipeline commits on success.
	Sources []string
	// StartPartition is the first partition scheduled when no watermark exists.
	StartPartition partition.Key
	// FailFast skips every not-yet-started task on the first failure instead
	// of letting unaffected branches finish.
	FailFast bool
	// MaxParallel overrides the engine's per-run parallelism when positive.
	MaxParallel int
	Tasks       []*TaskDefinition

	index      map[string]*TaskDefinition
	dependents map[string][]string
}

// NewPipeline indexes p. The caller guarantees Tasks is acyclic and ordered
// so that every task follows its upstream tasks.
func NewPipeline(p Pipeline) *Pipeline {
	p.index = make(map[string]*TaskDefinition, len(p.Tasks))
	p.dependents = make(map[string][]string, len(p.Tasks))
	for _, t := range p.Tasks {
		p.index[t.ID] = t
	}
	for _, t := range p.Tasks {
		for _, up := range t.Upstream {
			p.dependents[up] = append(p.dependents[up], t.ID)
		}
	}
	return &p
}

// Task looks up a task definition by id.
func (p *Pipeline) Task(id string) (*TaskDefinition, bool) {
	t, ok := p.index[id]
	return t, ok
}

// Dependents returns the ids of tasks that declare id as upstream, in
// topological order.
func (p *Pipeline) Dependents(id string) []string {
	return p.dependents[id]
}

// TransitiveDependents returns every task reachable downstream of id.
func (p *Pipeline) TransitiveDependents(id string) []string {
	seen := make(map[string]bool)
	var out []string
	var visit func(string)
	visit = func(cur string) {
		for _, d := range p.dependents[cur] {
			if seen[d] {
				continue
			}
			seen[d] = true
			out = append(out, d)
			visit(d)
		}
	}
	visit(id)
	return out
}

// NearestUpstream walks upstream from id and returns the closest tasks of the
// given kind, looking through tasks of any other kind. Order follows the
// pipeline's topological order.
func (p *Pipeline) NearestUpstream(id string, kind TaskKind) []string {
	found := make(map[string]bool)
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		t, ok := p.index[cur]
		if !ok {
			return
		}
		for _, up := range t.Upstream {
			if seen[up] {
				continue
			}
			seen[up] = true
			ut := p.index[up]
			if ut != nil && ut.Kind == kind {
				found[up] = true
				continue
			}
			walk(up)
		}
	}
	walk(id)

	var out []string
	for _, t := range p.Tasks {
		if found[t.ID] {
			out = append(out, t.ID)
		}
	}
	return out
}
