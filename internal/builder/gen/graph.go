package gen

import (
	"encoding/json"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/protogen-build/protogen/internal/builder/resolve"
	"github.com/protogen-build/protogen/internal/msg"
)

// GraphGen exports the resolved build graph as JSON for external executors.
// Node IDs are name-derived SHA1 UUIDs, so re-exports of an unchanged
// manifest produce identical IDs.
type GraphGen struct {
	targets map[string]protoTarget
}

func NewGraphGen() *GraphGen {
	return &GraphGen{targets: make(map[string]protoTarget)}
}

func (g *GraphGen) SetToolchain(tc Toolchain) {}

func (g *GraphGen) BuildFile() string { return "protogen_graph.json" }

func (g *GraphGen) AddTarget(plan *resolve.Plan, unit *resolve.Unit) {
	g.targets[unit.Name] = protoTarget{plan: plan, unit: unit}
}

type graphCommand struct {
	Source  string   `json:"source"`
	Args    []string `json:"args"`
	Outputs []string `json:"outputs"`
}

type graphNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"` // "generate" or "compile"

	// generate nodes
	Commands []graphCommand `json:"commands,omitempty"`

	// compile nodes
	UnitKind          string   `json:"unit_kind,omitempty"`
	Sources           []string `json:"sources,omitempty"`
	Defines           []string `json:"defines,omitempty"`
	Configs           []string `json:"configs,omitempty"`
	PublicIncludeDirs []string `json:"public_include_dirs,omitempty"`
	PublicDeps        []string `json:"public_deps,omitempty"`
	Visibility        []string `json:"visibility,omitempty"`

	Deps []string `json:"deps,omitempty"`
}

type buildGraph struct {
	Nodes []graphNode `json:"nodes"`
}

// nodeID derives a stable UUID for a build-graph node name.
func nodeID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("protogen://node/"+name)).String()
}

func (g *GraphGen) Generate() string {
	var graph buildGraph

	for _, name := range sortedNames(g.targets) {
		target := g.targets[name]
		plan, unit := target.plan, target.unit

		genNode := graphNode{
			ID:   nodeID(plan.NodeName()),
			Name: plan.NodeName(),
			Kind: "generate",
			Deps: plan.Deps,
		}
		for _, inv := range plan.Invocations {
			genNode.Commands = append(genNode.Commands, graphCommand{
				Source:  inv.Source,
				Args:    inv.Args,
				Outputs: inv.Outputs,
			})
		}
		graph.Nodes = append(graph.Nodes, genNode)

		graph.Nodes = append(graph.Nodes, graphNode{
			ID:                nodeID(unit.Name),
			Name:              unit.Name,
			Kind:              "compile",
			UnitKind:          unit.Kind.String(),
			Sources:           unit.Sources,
			Defines:           unit.Defines,
			Configs:           unit.Configs,
			PublicIncludeDirs: unit.PublicIncludeDirs,
			PublicDeps:        unit.PublicDeps,
			Visibility:        unit.Visibility,
			Deps:              unit.Deps,
		})
	}

	data, err := json.MarshalIndent(graph, "", "  ")
	if err != nil {
		panic(err) // marshalling plain structs cannot fail
	}
	return string(data) + "\n"
}

func (g *GraphGen) Invoke(buildDir string) error {
	msg.Info("build graph written to %s", filepath.Join(buildDir, g.BuildFile()))
	return nil
}
