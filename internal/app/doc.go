// Package app wires the orchestrator together: it loads and compiles the
// pipeline definitions, opens the state database, and builds the engine,
// coordinator, scheduler and HTTP API on top of them. It is decoupled from
// any specific entrypoint; the CLI drives it through Serve, Trigger, Status,
// Resolve and Validate.
package app
