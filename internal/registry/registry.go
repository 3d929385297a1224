package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vk/medallion/internal/collaborator"
	"github.com/vk/medallion/internal/model"
)

// Module is the interface that all collaborator modules implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry maps operation names used in pipeline definitions to collaborator
// implementations. It is populated once at startup and read-only afterwards.
type Registry struct {
	extractors   map[string]collaborator.Extractor
	transformers map[string]collaborator.Transformer
	evaluators   map[string]collaborator.Evaluator
	modelers     map[string]collaborator.Modeler
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		extractors:   make(map[string]collaborator.Extractor),
		transformers: make(map[string]collaborator.Transformer),
		evaluators:   make(map[string]collaborator.Evaluator),
		modelers:     make(map[string]collaborator.Modeler),
	}
}

// RegisterExtractor binds an extract operation name. Registering a name twice
// is a programming error and panics.
func (r *Registry) RegisterExtractor(name string, e collaborator.Extractor) {
	if _, exists := r.extractors[name]; exists {
		panic(fmt.Sprintf("extractor with name '%s' already registered", name))
	}
	slog.Debug("Registering extractor.", "name", name)
	r.extractors[name] = e
}

// RegisterTransformer binds a transform operation name.
func (r *Registry) RegisterTransformer(name string, t collaborator.Transformer) {
	if _, exists := r.transformers[name]; exists {
		panic(fmt.Sprintf("transformer with name '%s' already registered", name))
	}
	slog.Debug("Registering transformer.", "name", name)
	r.transformers[name] = t
}

// RegisterEvaluator binds a quality operation name.
func (r *Registry) RegisterEvaluator(name string, e collaborator.Evaluator) {
	if _, exists := r.evaluators[name]; exists {
		panic(fmt.Sprintf("evaluator with name '%s' already registered", name))
	}
	slog.Debug("Registering evaluator.", "name", name)
	r.evaluators[name] = e
}

// RegisterModeler binds a model operation name.
func (r *Registry) RegisterModeler(name string, m collaborator.Modeler) {
	if _, exists := r.modelers[name]; exists {
		panic(fmt.Sprintf("modeler with name '%s' already registered", name))
	}
	slog.Debug("Registering modeler.", "name", name)
	r.modelers[name] = m
}

// Extractor looks up an extract operation.
func (r *Registry) Extractor(name string) (collaborator.Extractor, bool) {
	e, ok := r.extractors[name]
	return e, ok
}

// Transformer looks up a transform operation.
func (r *Registry) Transformer(name string) (collaborator.Transformer, bool) {
	t, ok := r.transformers[name]
	return t, ok
}

// Evaluator looks up a quality operation.
func (r *Registry) Evaluator(name string) (collaborator.Evaluator, bool) {
	e, ok := r.evaluators[name]
	return e, ok
}

// Modeler looks up a model operation.
func (r *Registry) Modeler(name string) (collaborator.Modeler, bool) {
	m, ok := r.modelers[name]
	return m, ok
}

// Resolve reports an error unless operation is registered for kind.
func (r *Registry) Resolve(kind model.TaskKind, operation string) error {
	var ok bool
	switch kind {
	case model.KindExtract:
		_, ok = r.extractors[operation]
	case model.KindTransform:
		_, ok = r.transformers[operation]
	case model.KindQuality:
		_, ok = r.evaluators[operation]
	case model.KindModel:
		_, ok = r.modelers[operation]
	default:
		return fmt.Errorf("unknown task kind %q", kind)
	}
	if !ok {
		return fmt.Errorf("no %s operation named %q is registered", kind, operation)
	}
	return nil
}

// Operations lists the registered operation names per kind, sorted.
func (r *Registry) Operations() map[model.TaskKind][]string {
	return map[model.TaskKind][]string{
		model.KindExtract:   sortedKeys(r.extractors),
		model.KindTransform: sortedKeys(r.transformers),
		model.KindQuality:   sortedKeys(r.evaluators),
		model.KindModel:     sortedKeys(r.modelers),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
