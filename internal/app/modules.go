package app

import (
	"github.com/vk/framegraph/internal/registry"
	"github.com/vk/framegraph/modules/invert"
	"github.com/vk/framegraph/modules/print"
	"github.com/vk/framegraph/modules/testsource"
)

// CoreModules is the definitive list of all node kinds compiled into the
// framegraph binary.
var CoreModules = []registry.Module{
	&testsource.Module{},
	&invert.Module{},
	&print.Module{},
}
