package config

import (
	"context"
	"io/fs"
)

// Loader is the interface for a format-specific definition loader.
type Loader interface {
	// Load reads every definition file found under the given paths. Missing
	// paths are ignored.
	Load(ctx context.Context, paths ...string) (*Model, error)

	// LoadFS reads every definition file found in fsys, such as the
	// definitions embedded in the binary.
	LoadFS(ctx context.Context, fsys fs.FS) (*Model, error)
}
