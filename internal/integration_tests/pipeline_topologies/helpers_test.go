package pipeline_topologies

import (
	"slices"

	"github.com/vk/framegraph/internal/app"
	"github.com/vk/framegraph/internal/registry"
	"github.com/vk/framegraph/internal/testutil"
)

func modulesWith(probe *testutil.ProbeModule) []registry.Module {
	return append(slices.Clone(app.CoreModules), probe)
}

func sequence(from, to uint64) []uint64 {
	var out []uint64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}
