package localfs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/vk/medallion/internal/collaborator"
	"github.com/vk/medallion/internal/ctxlog"
	"github.com/vk/medallion/internal/fsutil"
)

// OriginField names the field that records which input a row came from.
const OriginField = fsutil.OriginField

// Normalizer cleanses landed records into the transformed zone:
//
//   - field names become snake_case
//   - strings are trimmed and empty strings become null
//   - nested objects are flattened into parent_child fields when Flatten is set
//   - rows missing any "required" field are dropped
//   - rows repeating a "dedupe_key" already seen are dropped
//
// Parameters "required" and "dedupe_key" are comma-separated field lists,
// named after normalisation.
type Normalizer struct {
	Flatten bool
	// TagOrigin stores the producing task of each row in OriginField.
	TagOrigin bool
}

// Transform implements collaborator.Transformer.
func (n *Normalizer) Transform(ctx context.Context, req collaborator.TransformRequest) (collaborator.Result, error) {
	logger := ctxlog.FromContext(ctx)
	required := splitList(req.Params["required"])
	dedupe := splitList(req.Params["dedupe_key"])

	out, err := fsutil.CreateDataset(req.Destination)
	if err != nil {
		return collaborator.Result{}, err
	}
	defer out.Abort()

	seen := make(map[string]struct{})
	var dropped int64
	for _, input := range req.Inputs {
		origin := originOf(input)
		err := fsutil.ReadDataset(ctx, input, func(raw fsutil.Record) error {
			rec := n.normalize(raw)
			if n.TagOrigin {
				rec[OriginField] = origin
			}
			if !hasAll(rec, required) {
				dropped++
				return nil
			}
			if len(dedupe) > 0 {
				k := compositeKey(rec, dedupe)
				if _, dup := seen[k]; dup {
					dropped++
					return nil
				}
				seen[k] = struct{}{}
			}
			return out.Write(rec)
		})
		if err != nil {
			return collaborator.Result{}, fmt.Errorf("failed to read input %s: %w", input, err)
		}
	}

	rows, err := out.Commit()
	if err != nil {
		return collaborator.Result{}, err
	}
	logger.Info("Normalised inputs.", "inputs", len(req.Inputs), "rows", rows, "dropped", dropped)
	return collaborator.Result{Rows: rows}, nil
}

func (n *Normalizer) normalize(raw fsutil.Record) fsutil.Record {
	rec := make(fsutil.Record, len(raw))
	n.put(rec, "", raw)
	return rec
}

func (n *Normalizer) put(dst fsutil.Record, prefix string, src fsutil.Record) {
	for k, v := range src {
		name := snakeCase(k)
		if prefix != "" {
			name = prefix + "_" + name
		}
		switch val := v.(type) {
		case map[string]any:
			if n.Flatten {
				n.put(dst, name, val)
				continue
			}
			dst[name] = val
		case string:
			s := strings.TrimSpace(val)
			if s == "" {
				dst[name] = nil
			} else {
				dst[name] = s
			}
		default:
			dst[name] = val
		}
	}
}

// snakeCase turns "userId", "User ID" and "user-id" into "user_id".
func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(strings.TrimSpace(s))
	for i, r := range runes {
		switch {
		case r == ' ' || r == '-' || r == '.':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
		case unicode.IsUpper(r):
			if i > 0 && b.Len() > 0 && !strings.HasSuffix(b.String(), "_") &&
				(unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// originOf names the task that produced a dataset location
// (<root>/<zone>/<pipeline>/<task>/<partition>).
func originOf(location string) string {
	return filepath.Base(filepath.Dir(location))
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func hasAll(rec fsutil.Record, fields []string) bool {
	for _, f := range fields {
		if rec[f] == nil {
			return false
		}
	}
	return true
}

func compositeKey(rec fsutil.Record, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprint(rec[f])
	}
	return strings.Join(parts, "\x1f")
}
