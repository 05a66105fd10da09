package gen

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protogen-build/protogen/internal/builder/resolve"
)

func TestNodeIDStable(t *testing.T) {
	assert.Equal(t, nodeID("msgs"), nodeID("msgs"))
	assert.NotEqual(t, nodeID("msgs"), nodeID("msgs_gen"))

	// re-exports of an unchanged graph must not churn IDs
	assert.Equal(t, "e5083aef-b225-543c-8969-16bf3312965f", nodeID("msgs"))
}

func TestGraphGenerate(t *testing.T) {
	g := NewGraphGen()
	g.AddTarget(resolveTestTarget(t, resolve.Target{
		Name:    "msgs",
		Sources: []string{"protos/foo.proto", "protos/bar.proto"},
		Python:  true,
		Cpp:     true,
		Deps:    []string{"//base:defs"},
	}))

	var graph buildGraph
	require.NoError(t, json.Unmarshal([]byte(g.Generate()), &graph))
	require.Len(t, graph.Nodes, 2)

	genNode, unitNode := graph.Nodes[0], graph.Nodes[1]

	assert.Equal(t, "msgs_gen", genNode.Name)
	assert.Equal(t, "generate", genNode.Kind)
	assert.Equal(t, nodeID("msgs_gen"), genNode.ID)
	assert.Equal(t, []string{"protoc", "//base:defs"}, genNode.Deps)
	require.Len(t, genNode.Commands, 2)
	assert.Equal(t, "protos/foo.proto", genNode.Commands[0].Source)
	assert.NotEmpty(t, genNode.Commands[0].Args)
	assert.NotEmpty(t, genNode.Commands[0].Outputs)

	assert.Equal(t, "msgs", unitNode.Name)
	assert.Equal(t, "compile", unitNode.Kind)
	assert.Equal(t, nodeID("msgs"), unitNode.ID)
	assert.Equal(t, "static_library", unitNode.UnitKind)
	assert.Equal(t, []string{"msgs_gen", "//base:defs"}, unitNode.Deps)
	assert.Equal(t, []string{"protobuf-lite"}, unitNode.PublicDeps)
	assert.Equal(t, []string{"build/gen"}, unitNode.PublicIncludeDirs)
	assert.Equal(t, []string{":msgs"}, unitNode.Visibility)
}

func TestGraphGenerateDeterministicOrder(t *testing.T) {
	build := func() string {
		g := NewGraphGen()
		for _, name := range []string{"zeta", "alpha", "mid"} {
			g.AddTarget(resolveTestTarget(t, resolve.Target{
				Name:    name,
				Sources: []string{"protos/" + name + ".proto"},
				Cpp:     true,
			}))
		}
		return g.Generate()
	}

	first := build()
	assert.Equal(t, first, build())

	var graph buildGraph
	require.NoError(t, json.Unmarshal([]byte(first), &graph))
	var names []string
	for _, n := range graph.Nodes {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"alpha_gen", "alpha", "mid_gen", "mid", "zeta_gen", "zeta"}, names)
}
