package collaborator

import (
	"path/filepath"

	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/partition"
)

// Medallion zones under a data root.
const (
	ZoneLanding     = "landing"
	ZoneTransformed = "transformed"
)

// Layout derives dataset locations. Locations depend only on pipeline, task
// and partition, so every attempt of a task rewrites the same destination.
type Layout struct {
	Root string
}

// Location returns the dataset location of the output of task for key.
// Extract tasks write to the landing zone and every other kind to the
// transformed zone.
func (l Layout) Location(pipeline string, kind model.TaskKind, task string, key partition.Key) string {
	zone := ZoneTransformed
	if kind == model.KindExtract {
		zone = ZoneLanding
	}
	return filepath.Join(l.Root, zone, pipeline, task, key.String())
}
