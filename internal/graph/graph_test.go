package graph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/framegraph/internal/edge"
	"github.com/vk/framegraph/internal/node"
)

var noop = node.ProcessorFunc(func(context.Context, *node.Invocation) error { return nil })

// stage adds a node with one "in" and one "out" port of the given type.
func stage(t *testing.T, g *Graph, name, typ string) {
	t.Helper()
	_, err := g.AddNode(node.Config{
		Name:      name,
		Inputs:    []node.Port{{Name: "in", Type: typ}},
		Outputs:   []node.Port{{Name: "out", Type: typ}},
		Processor: noop,
	})
	require.NoError(t, err)
}

func source(t *testing.T, g *Graph, name string) {
	t.Helper()
	_, err := g.AddNode(node.Config{Name: name, Outputs: []node.Port{{Name: "out"}}, Processor: noop})
	require.NoError(t, err)
}

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.Empty(t, g.Nodes())
	assert.Empty(t, g.Edges())
	assert.NoError(t, g.Validate())
}

func TestAddNode(t *testing.T) {
	g := New()

	id, err := g.AddNode(node.Config{Name: "a", Processor: noop})
	require.NoError(t, err)
	assert.Equal(t, node.ID(0), id)

	_, err = g.AddNode(node.Config{Name: "a", Processor: noop})
	assert.ErrorIs(t, err, ErrDuplicateNode)
	assert.Len(t, g.Nodes(), 1)

	_, err = g.AddNode(node.Config{Name: "bad.name", Processor: noop})
	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, KindInvalidNode, buildErr.Kind)

	_, err = g.AddNode(node.Config{Name: "dup_ports", Inputs: []node.Port{{Name: "x"}, {Name: "x"}}, Processor: noop})
	assert.Error(t, err)

	_, err = g.AddNode(node.Config{Name: "no_proc"})
	assert.Error(t, err)
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		source(t, g, "a")
		stage(t, g, "b", "")

		id, err := g.AddEdge("a", "out", "b", "in", edge.Config{Depth: 2})
		require.NoError(t, err)

		e, ok := g.Edge(id)
		require.True(t, ok)
		assert.Equal(t, 2, e.Depth())

		a, _ := g.Node("a")
		b, _ := g.Node("b")
		assert.Same(t, e, b.InputEdge(0))
		assert.Equal(t, []*edge.Edge{e}, a.OutputEdges(0))

		up, err := g.Upstream("b")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, up)
		down, err := g.Downstream("a")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, down)
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		source(t, g, "a")
		stage(t, g, "b", "video/raw")
		stage(t, g, "c", "audio/pcm")

		_, err := g.AddEdge("dne", "out", "b", "in", edge.Config{})
		assert.ErrorIs(t, err, ErrUnknownNode)

		_, err = g.AddEdge("a", "out", "dne", "in", edge.Config{})
		assert.ErrorIs(t, err, ErrUnknownNode)

		_, err = g.AddEdge("a", "nope", "b", "in", edge.Config{})
		assert.ErrorIs(t, err, ErrUnknownPort)

		_, err = g.AddEdge("b", "out", "b", "in", edge.Config{})
		assert.ErrorIs(t, err, ErrCycle, "self-referential edge")

		_, err = g.AddEdge("b", "out", "c", "in", edge.Config{})
		assert.ErrorIs(t, err, ErrTypeMismatch)

		_, err = g.AddEdge("a", "out", "b", "in", edge.Config{})
		require.NoError(t, err)
		_, err = g.AddEdge("a", "out", "b", "in", edge.Config{})
		assert.ErrorIs(t, err, ErrPortTaken)

		_, err = g.AddEdge("b", "out", "c", "", edge.Config{Feedback: true})
		assert.Error(t, err)

		assert.Len(t, g.Edges(), 1, "failed AddEdge calls must not leave edges behind")
	})
}

func TestConnect(t *testing.T) {
	g := New()
	source(t, g, "cam")
	stage(t, g, "scale", "")

	_, err := g.Connect("cam.out", "scale.in", edge.Config{})
	require.NoError(t, err)
	_, err = g.Connect("cam..out", "scale", edge.Config{})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("valid linear pipeline", func(t *testing.T) {
		g := New()
		source(t, g, "src")
		stage(t, g, "xf", "")
		stage(t, g, "sink", "")
		_, err := g.Connect("src.out", "xf.in", edge.Config{})
		require.NoError(t, err)
		_, err = g.Connect("xf.out", "sink.in", edge.Config{})
		require.NoError(t, err)
		assert.NoError(t, g.Validate())
	})

	t.Run("unconnected required input", func(t *testing.T) {
		g := New()
		stage(t, g, "lonely", "")
		err := g.Validate()
		assert.ErrorIs(t, err, ErrUnconnectedInput)
	})

	t.Run("optional and feedback inputs may stay unconnected", func(t *testing.T) {
		g := New()
		_, err := g.AddNode(node.Config{
			Name: "mixer",
			Inputs: []node.Port{
				{Name: "main", Optional: true},
				{Name: "ref", Feedback: true},
			},
			Processor: noop,
		})
		require.NoError(t, err)
		assert.NoError(t, g.Validate())
	})

	t.Run("external input satisfies a required port", func(t *testing.T) {
		g := New()
		stage(t, g, "sink", "")
		_, err := g.AddInput("sink", "in", edge.Config{})
		require.NoError(t, err)
		assert.NoError(t, g.Validate())

		_, err = g.AddInput("sink", "in", edge.Config{})
		assert.ErrorIs(t, err, ErrPortTaken)
	})

	t.Run("reports every problem and does not mutate", func(t *testing.T) {
		g := New()
		stage(t, g, "a", "")
		stage(t, g, "b", "")
		stage(t, g, "orphan", "")
		_, err := g.Connect("a.out", "b.in", edge.Config{})
		require.NoError(t, err)
		_, err = g.Connect("b.out", "a.in", edge.Config{})
		require.NoError(t, err)

		nodesBefore, edgesBefore := g.Nodes(), g.Edges()
		first := g.Validate()
		second := g.Validate()

		assert.ErrorIs(t, first, ErrCycle)
		assert.ErrorIs(t, first, ErrUnconnectedInput)
		assert.Equal(t, first.Error(), second.Error(), "validate is repeatable")
		assert.Equal(t, nodesBefore, g.Nodes())
		assert.Equal(t, edgesBefore, g.Edges())
	})
}

func TestDetectCycles(t *testing.T) {
	t.Run("longer cycle is detected", func(t *testing.T) {
		g := New()
		for _, name := range []string{"a", "b", "c", "d"} {
			stage(t, g, name, "")
		}
		require.NoError(t, connectChain(g, "a", "b", "c", "d", "a"))
		err := g.Validate()
		assert.ErrorIs(t, err, ErrCycle)
		assert.ErrorContains(t, err, "cycle detected")
	})

	t.Run("marked feedback edge is exempt", func(t *testing.T) {
		g := New()
		source(t, g, "src")
		_, err := g.AddNode(node.Config{
			Name:      "mc",
			Inputs:    []node.Port{{Name: "in"}, {Name: "ref", Feedback: true}},
			Outputs:   []node.Port{{Name: "out"}},
			Processor: noop,
		})
		require.NoError(t, err)
		stage(t, g, "delay", "")

		_, err = g.Connect("src.out", "mc.in", edge.Config{})
		require.NoError(t, err)
		_, err = g.Connect("mc.out", "delay.in", edge.Config{})
		require.NoError(t, err)
		_, err = g.Connect("delay.out", "mc.ref", edge.Config{Feedback: true})
		require.NoError(t, err)

		assert.NoError(t, g.Validate())
		order, err := g.TopologicalOrder()
		require.NoError(t, err)
		assert.Equal(t, []string{"src", "mc", "delay"}, names(order))
	})

	t.Run("self loop marked as feedback", func(t *testing.T) {
		g := New()
		_, err := g.AddNode(node.Config{
			Name:      "iir",
			Inputs:    []node.Port{{Name: "prev", Feedback: true}},
			Outputs:   []node.Port{{Name: "out"}},
			Processor: noop,
		})
		require.NoError(t, err)
		_, err = g.Connect("iir.out", "iir.prev", edge.Config{Feedback: true})
		require.NoError(t, err)
		assert.NoError(t, g.Validate())
	})
}

// Any back edge added to a random DAG without the feedback mark is rejected.
func TestValidate_RejectsEveryUnmarkedCycle(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 40; round++ {
		g := New()
		const size = 8
		for i := 0; i < size; i++ {
			_, err := g.AddNode(node.Config{
				Name:      nodeName(i),
				Inputs:    []node.Port{{Name: "in", Optional: true}, {Name: "back", Optional: true}},
				Outputs:   []node.Port{{Name: "out"}},
				Processor: noop,
			})
			require.NoError(t, err)
		}
		// A forward chain keeps every node reachable.
		for i := 0; i+1 < size; i++ {
			_, err := g.AddEdge(nodeName(i), "out", nodeName(i+1), "in", edge.Config{})
			require.NoError(t, err)
		}
		require.NoError(t, g.Validate())

		from := rng.Intn(size-1) + 1
		to := rng.Intn(from + 1)
		_, err := g.AddEdge(nodeName(from), "out", nodeName(to), "back", edge.Config{})
		if from == to {
			assert.ErrorIs(t, err, ErrCycle)
			continue
		}
		require.NoError(t, err)
		assert.ErrorIs(t, g.Validate(), ErrCycle, "back edge %d -> %d", from, to)
	}
}

func TestFrozenGraphRejectsMutation(t *testing.T) {
	g := New()
	source(t, g, "a")
	stage(t, g, "b", "")
	g.Freeze()

	_, err := g.AddNode(node.Config{Name: "c", Processor: noop})
	assert.ErrorIs(t, err, ErrFrozen)
	_, err = g.AddEdge("a", "out", "b", "in", edge.Config{})
	assert.ErrorIs(t, err, ErrFrozen)
	assert.ErrorIs(t, g.RemoveNode("a"), ErrFrozen)
	assert.ErrorIs(t, g.Clear(), ErrFrozen)

	g.Thaw()
	_, err = g.AddEdge("a", "out", "b", "in", edge.Config{})
	assert.NoError(t, err)
}

func TestRemoveNodeAndEdge(t *testing.T) {
	g := New()
	source(t, g, "a")
	stage(t, g, "b", "")
	stage(t, g, "c", "")
	ab, err := g.Connect("a", "b", edge.Config{})
	require.NoError(t, err)
	_, err = g.Connect("b", "c", edge.Config{})
	require.NoError(t, err)

	require.NoError(t, g.RemoveEdge(ab))
	b, _ := g.Node("b")
	assert.Nil(t, b.InputEdge(0))
	assert.Error(t, g.RemoveEdge(ab))

	require.NoError(t, g.RemoveNode("b"))
	_, ok := g.Node("b")
	assert.False(t, ok)
	assert.Empty(t, g.Edges())
	c, _ := g.Node("c")
	assert.Nil(t, c.InputEdge(0))

	id, err := g.AddNode(node.Config{Name: "b", Processor: noop})
	require.NoError(t, err)
	assert.Equal(t, node.ID(3), id, "arena ids are never reused")

	require.NoError(t, g.Clear())
	assert.Empty(t, g.Nodes())
}

func TestWalk(t *testing.T) {
	g := New()
	source(t, g, "a")
	stage(t, g, "b", "")
	_, err := g.Connect("a", "b", edge.Config{})
	require.NoError(t, err)

	var visited []string
	err = g.Walk(VisitorFuncs{
		Node: func(n *node.Node) error { visited = append(visited, "node:"+n.Name()); return nil },
		Port: func(n *node.Node, _ int, p node.Port, input bool) error {
			dir := "out"
			if input {
				dir = "in"
			}
			visited = append(visited, dir+":"+n.Name()+"."+p.Name)
			return nil
		},
		Edge: func(e *edge.Edge) error { visited = append(visited, "edge"); return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"node:a", "out:a.out", "node:b", "in:b.in", "out:b.out", "edge"}, visited)

	stop := errors.New("stop")
	err = g.Walk(VisitorFuncs{Node: func(*node.Node) error { return stop }})
	assert.ErrorIs(t, err, stop)
}

func connectChain(g *Graph, names ...string) error {
	for i := 0; i+1 < len(names); i++ {
		if _, err := g.Connect(names[i]+".out", names[i+1]+".in", edge.Config{}); err != nil {
			return err
		}
	}
	return nil
}

func names(nodes []*node.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Name()
	}
	return out
}

func nodeName(i int) string {
	return string(rune('a' + i))
}

func TestFreezeRacesWithMutation(t *testing.T) {
	g := New()
	start := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			<-start
			for i := 0; ; i++ {
				_, err := g.AddNode(node.Config{Name: fmt.Sprintf("n%d_%d", w, i), Outputs: []node.Port{{Name: "out"}}, Processor: noop})
				if errors.Is(err, ErrFrozen) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
			}
		}(w)
	}

	close(start)
	g.Freeze()
	frozenAt := len(g.Nodes())
	wg.Wait()

	assert.Len(t, g.Nodes(), frozenAt, "no node may be added once Freeze returns")
}
