package app

import (
	"github.com/vk/medallion/internal/registry"
	"github.com/vk/medallion/modules/httpapi"
	"github.com/vk/medallion/modules/localfs"
	"github.com/vk/medallion/modules/sqlsource"
	"github.com/vk/medallion/modules/warehouse"
)

// coreModules is the definitive list of all collaborator modules that are
// compiled into the medallion binary.
var coreModules = []registry.Module{
	&sqlsource.Module{},
	&httpapi.Module{},
	&localfs.Module{},
	&warehouse.Module{},
}
