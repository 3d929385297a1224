// Package model holds the orchestrator's core data types: immutable pipeline
// and task definitions, and the mutable Run / TaskInstance records the
// engine and coordinator work on.
//
// Definitions are produced once by the definition compiler and shared
// read-only across runs. Runs are owned by the coordinator; their task
// instances are mutated only by the engine walk executing on their behalf,
// always through Transition so the state machine cannot be bypassed.
package model
