// Package scheduler drives the coordinator on a fixed interval. Each tick
// asks for the next due partition of every pipeline; deciding what is due,
// and what is already running or committed, stays with the coordinator.
package scheduler
