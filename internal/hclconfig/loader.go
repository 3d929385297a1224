package hclconfig

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/medallion/internal/config"
	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	vars map[string]string
}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a new HCL loader. vars are exposed to definitions as
// `var.<name>`, alongside the process environment as `env.<NAME>`.
func NewLoader(vars map[string]string) *Loader {
	return &Loader{vars: vars}
}

// Load parses every .hcl file found under paths.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	model := &config.Model{}
	evalCtx := l.evalContext()
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		if err := l.decodeInto(ctx, model, hclFile, file, evalCtx); err != nil {
			return nil, err
		}
	}

	logger.Debug("HCL loading complete.", "pipelines", len(model.Pipelines))
	return model, nil
}

// LoadFS parses every .hcl file in fsys, in lexical order.
func (l *Loader) LoadFS(ctx context.Context, fsys fs.FS) (*config.Model, error) {
	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(p) == ".hcl" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	parser := hclparse.NewParser()
	model := &config.Model{}
	evalCtx := l.evalContext()
	for _, file := range files {
		src, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		hclFile, diags := parser.ParseHCL(src, file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		if err := l.decodeInto(ctx, model, hclFile, file, evalCtx); err != nil {
			return nil, err
		}
	}
	ctxlog.FromContext(ctx).Debug("HCL loading complete.", "pipelines", len(model.Pipelines), "files", len(files))
	return model, nil
}

func (l *Loader) decodeInto(ctx context.Context, model *config.Model, file *hcl.File, name string, evalCtx *hcl.EvalContext) error {
	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, evalCtx, &root); diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %w", name, diags)
	}
	for _, pb := range root.Pipelines {
		p, err := translatePipeline(ctx, pb, evalCtx)
		if err != nil {
			return fmt.Errorf("in %s: %w", name, err)
		}
		p.Origin = name
		model.Pipelines = append(model.Pipelines, p)
	}
	return nil
}

// findAllHCLFiles walks all given paths and returns a flat, sorted list of
// all .hcl files found.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, wasSeen := seen[p]; !wasSeen {
			allFiles = append(allFiles, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue // It's not an error if a configured path doesn't exist.
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if !info.IsDir() {
			if filepath.Ext(path) == ".hcl" {
				add(path)
			}
			continue
		}
		found, err := fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			return nil, err
		}
		for _, p := range found {
			add(p)
		}
	}
	sort.Strings(allFiles)
	return allFiles, nil
}
