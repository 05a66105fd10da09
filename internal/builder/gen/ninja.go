package gen

import (
	"os"
	"os/exec"
	"strings"

	"github.com/protogen-build/protogen/internal/builder/resolve"
)

// NinjaGen emits a build.ninja describing both node kinds of every proto
// target: protoc edges whose declared outputs ninja verifies itself, and
// cxx/ar edges turning the generated code into a linkable unit.
type NinjaGen struct {
	tc         Toolchain
	protocPath string // protoc executable, relative to the package root
	targets    map[string]protoTarget
}

func NewNinjaGen(protocPath string) *NinjaGen {
	return &NinjaGen{
		protocPath: protocPath,
		targets:    make(map[string]protoTarget),
	}
}

func (g *NinjaGen) SetToolchain(tc Toolchain) { g.tc = tc }

func (g *NinjaGen) BuildFile() string { return "build.ninja" }

var ninjaPathEscaper = strings.NewReplacer(":", "$:", " ", "$ ")

func quote(s string) string { return ninjaPathEscaper.Replace(s) }

// np renders a package-root-relative path for a build file that executes
// inside the build directory.
func np(p string) string { return "$root/" + quote(p) }

// shellArg quotes one argument for the shell command line ninja hands to the
// protoc rule. Option strings are pass-through user input and may contain
// spaces; safe tokens pass through untouched.
func shellArg(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$&|;<>()*?[]#~!{}`") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ninjaArgs renders an argument vector as the $args variable value: shell
// quoting first, then ninja's own $ escaping on top.
func ninjaArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = strings.ReplaceAll(shellArg(a), "$", "$$")
	}
	return strings.Join(quoted, " ")
}

func (g *NinjaGen) AddTarget(plan *resolve.Plan, unit *resolve.Unit) {
	g.targets[unit.Name] = protoTarget{plan: plan, unit: unit}
}

func (g *NinjaGen) Generate() string {
	var sb strings.Builder

	writeln(&sb, "ninja_required_version = 1.1")
	writeln(&sb, "root = ..")
	writeln(&sb, "protogen = ", quote(g.tc.Protogen))
	writeln(&sb, "cxx = ", g.tc.Cxx)
	writeln(&sb, "cflags = ", strings.Join(g.tc.Cflags, " "))
	writeln(&sb)

	write(&sb,
		`rule protoc
  command = $protogen protoc --root $root --build-dir . -- $args
  description = PROTOC $in
`)
	write(&sb,
		`rule cxx
  command = $cxx $cflags $unitflags -c $in -o $out
  description = CXX $out
`)
	write(&sb,
		`rule ar
  command = ar rcs $out $in
  description = AR $out
`)
	writeln(&sb)

	for _, name := range sortedNames(g.targets) {
		g.writeTarget(&sb, g.targets[name])
	}

	return sb.String()
}

func (g *NinjaGen) writeTarget(sb *strings.Builder, target protoTarget) {
	plan, unit := target.plan, target.unit

	// generation edges, one per source file
	for _, inv := range plan.Invocations {
		write(sb, "build")
		for _, out := range inv.Outputs {
			write(sb, " ", np(out))
		}
		write(sb, ": protoc ", np(inv.Source), " | ", np(g.protocPath))
		writeln(sb)
		writeln(sb, "  args = ", ninjaArgs(inv.Args))
	}

	// a phony for the generation node, so it can be addressed (and depended
	// on) by name
	write(sb, "build ", plan.NodeName(), ": phony")
	for _, out := range plan.Outputs() {
		write(sb, " ", np(out))
	}
	writeln(sb)

	unitflags := unitCflags(unit, np)

	var objs []string
	for _, src := range ccSources(unit.Sources) {
		obj := quote(objPath(unit.Name, src))
		objs = append(objs, obj)

		writeln(sb, "build ", obj, ": cxx ", np(src))
		writeln(sb, "  unitflags = ", strings.Join(unitflags, " "))
	}

	// the compile node: an archive, or a phony aggregate when the unit must
	// stay separately linkable
	if unit.Kind == resolve.SourceSet {
		write(sb, "build ", quote(unit.Name), ": phony")
	} else {
		write(sb, "build ", quote("lib"+unit.Name+".a"), ": ar")
	}
	for _, obj := range objs {
		write(sb, " ", obj)
	}
	var extraDeps []string
	for _, dep := range unit.Deps {
		if dep != plan.NodeName() {
			extraDeps = append(extraDeps, quote(dep))
		}
	}
	if len(extraDeps) > 0 {
		write(sb, " | ", strings.Join(extraDeps, " "))
	}
	writeln(sb)
	writeln(sb)
}

// unitCflags renders a compile unit's defines and public include dirs as
// compiler flags. rebase maps root-relative paths into the build dir.
func unitCflags(unit *resolve.Unit, rebase func(string) string) []string {
	var flags []string
	for _, dir := range unit.PublicIncludeDirs {
		flags = append(flags, "-I"+rebase(dir))
	}
	for _, define := range unit.Defines {
		flags = append(flags, "-D"+define)
	}
	return flags
}

func (g *NinjaGen) Invoke(buildDir string) error {
	cmd := exec.Command("ninja", "-C", buildDir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}
