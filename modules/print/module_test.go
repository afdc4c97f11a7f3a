package print

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/framegraph/internal/buffer"
	"github.com/vk/framegraph/internal/ctxlog"
	"github.com/vk/framegraph/internal/node"
	"github.com/vk/framegraph/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

func TestSink_LogsEveryNth(t *testing.T) {
	r := registry.New()
	(&Module{}).Register(r)
	cfg, err := r.Instantiate("out", KindName, map[string]cty.Value{
		"every": cty.NumberIntVal(2),
		"label": cty.StringVal("preview"),
	})
	require.NoError(t, err)
	n, err := node.New(0, cfg)
	require.NoError(t, err)

	var logs bytes.Buffer
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(&logs, nil)))

	for seq := uint64(1); seq <= 4; seq++ {
		b := buffer.New([]byte{10, 20})
		b.Seq = seq
		inv := node.NewInvocation(n, seq, []*buffer.Buffer{b}, nil, nil)
		require.NoError(t, cfg.Processor.Process(ctx, inv))
	}

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `msg="Frame received."`)
	assert.Contains(t, lines[0], "seq=2")
	assert.Contains(t, lines[0], "label=preview")
	assert.Contains(t, lines[0], "mean=15")
	assert.Contains(t, lines[1], "seq=4")

	assert.Equal(t, uint64(4), cfg.Processor.(*Sink).Received())
	received, err := cfg.Properties.GetString("received")
	require.NoError(t, err)
	assert.Equal(t, "4", received)
	last, err := cfg.Properties.GetString("last_seq")
	require.NoError(t, err)
	assert.Equal(t, "4", last)
}

func TestSink_Silent(t *testing.T) {
	r := registry.New()
	(&Module{}).Register(r)
	cfg, err := r.Instantiate("out", KindName, map[string]cty.Value{"every": cty.NumberIntVal(0)})
	require.NoError(t, err)
	n, err := node.New(0, cfg)
	require.NoError(t, err)

	var logs bytes.Buffer
	ctx := ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(&logs, nil)))
	inv := node.NewInvocation(n, 1, []*buffer.Buffer{buffer.New([]byte{1})}, nil, nil)
	require.NoError(t, cfg.Processor.Process(ctx, inv))
	assert.Empty(t, logs.String())
	assert.Equal(t, uint64(1), cfg.Processor.(*Sink).Received())
}
