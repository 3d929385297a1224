// Package config defines the format-agnostic representation of pipeline
// definitions and the Loader interface that produces it.
//
// Values here are raw: kinds, durations and partition keys are still
// strings. The definition package validates and compiles a Model into
// immutable model.Pipeline values. Concrete loaders, such as the HCL one,
// live in separate packages.
package config
