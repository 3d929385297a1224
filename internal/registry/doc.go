// Package registry provides the central "glue" between pipeline definitions
// and compiled collaborator code.
//
// Definitions refer to collaborators by operation name (for example
// "rds_extract"). Modules register their implementations under those names
// at startup; the definition compiler then resolves every task's operation
// against the registry, so a typo in a definition is rejected at load time
// instead of surfacing mid-run.
package registry
