// Package localfs implements the transform and quality collaborators over
// JSON-lines datasets on the local file system.
package localfs

import (
	"github.com/vk/medallion/internal/registry"
)

// Operation names registered by this module.
const (
	SongsTransform = "songs_transform"
	JSONTransform  = "json_transform"
	RuleEvaluate   = "rule_evaluate"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the normalisers and the rule evaluator.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterTransformer(SongsTransform, &Normalizer{})
	r.RegisterTransformer(JSONTransform, &Normalizer{Flatten: true, TagOrigin: true})
	r.RegisterEvaluator(RuleEvaluate, &RuleEvaluator{})
}
