// Package gen holds the build-graph backends. Each backend consumes the
// generation/compile node pairs the resolver produced and either emits a
// build file for an external executor (ninja, graph JSON) or executes the
// build itself (exec).
package gen

import "github.com/protogen-build/protogen/internal/builder/resolve"

// Toolchain holds the executables and flags the backends need. Protogen is
// the running binary itself, re-invoked as `protogen protoc` for each
// generation command.
type Toolchain struct {
	Protogen string
	Cxx      string
	Cflags   []string
}

type Generator interface {
	SetToolchain(tc Toolchain)
	AddTarget(plan *resolve.Plan, unit *resolve.Unit)
	Generate() string
	BuildFile() string
	Invoke(buildDir string) error
}

// protoTarget pairs the two build-graph nodes of one proto target.
type protoTarget struct {
	plan *resolve.Plan
	unit *resolve.Unit
}
