// Package dag holds the dependency graph of a pipeline definition. It is used
// once, at load time, to reject self-references and cycles and to produce the
// topological order the executor walks. It knows nothing about task kinds or
// run state.
package dag
