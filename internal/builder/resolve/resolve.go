// Package resolve turns a proto target description into the two build-graph
// nodes the rest of the tool consumes: a generation node (one protoc wrapper
// invocation per source file, with the exact outputs each invocation must
// produce) and a compile node for the generated native code.
//
// Everything in here is pure string computation over slash-separated paths;
// no file system access, no subprocesses.
package resolve

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	ErrNoSources    = errors.New("proto target has no source files")
	ErrPluginSuffix = errors.New("proto plugin configured without a generated-file suffix")
)

// Env describes the build layout a resolution runs against. All paths are
// slash-separated and share one root (relative or absolute, but not mixed).
type Env struct {
	SourceRoot string // root the proto sources are relative to
	BuildDir   string // build output directory
	GenRoot    string // native generated code, defaults to <BuildDir>/gen
	PyGenRoot  string // python stubs, defaults to <BuildDir>/pygen

	ProtocPath string // protoc executable built into the build tree
	ProtocDep  string // build-target label of the protoc executable (host)
	RuntimeDep string // label of the protobuf runtime support library

	ComponentBuild bool // whether the build links components dynamically
}

func (e Env) withDefaults() Env {
	if e.GenRoot == "" {
		e.GenRoot = path.Join(e.BuildDir, "gen")
	}
	if e.PyGenRoot == "" {
		e.PyGenRoot = path.Join(e.BuildDir, "pygen")
	}
	return e
}

// Plugin configures an extra protoc code generator. Suffix is the filename
// suffix of the generated pair and is required whenever Path is set.
type Plugin struct {
	Path    string `toml:"path"`
	Suffix  string `toml:"suffix"`
	Options string `toml:"options"`
}

// Target is one proto build target as declared in the manifest. Python and
// Cpp default to true; the config layer applies the defaults before a Target
// reaches Resolve, so a false here always means "explicitly disabled".
type Target struct {
	Name    string   `toml:"-"`
	Sources []string `toml:"sources"`

	// OutDir overrides the output directory (relative to the gen roots).
	// Empty keeps the source file's directory relative to the source root.
	OutDir string `toml:"out-dir"`

	Python bool `toml:"python"`
	Cpp    bool `toml:"cpp"`

	// Generator option strings are concatenated directly in front of the
	// output directory. The external generator requires a trailing ":" on a
	// non-empty options string; protoc rejects the flag otherwise.
	PyOptions string `toml:"py-options"`
	CcOptions string `toml:"cc-options"`

	// Include injects an export-macro header into the generated C++ header.
	Include string `toml:"include"`

	Plugin Plugin `toml:"plugin"`

	ImportDirs []string `toml:"import-dirs"`
	Deps       []string `toml:"deps"`

	// ForceSourceSet keeps the unit as separately linkable object code in
	// component builds, preserving exported symbols.
	ForceSourceSet bool `toml:"force-source-set"`

	Defines    []string `toml:"defines"`
	Configs    []string `toml:"configs"`
	Visibility []string `toml:"visibility"`
}

// Invocation is a single wrapper run: its argument vector and the files it
// must produce. The downstream executor checks the outputs for existence, so
// the list has to match what the generator actually emits.
type Invocation struct {
	Source  string
	Args    []string
	Outputs []string
}

// Plan is the generation node for one target.
type Plan struct {
	Target      string
	Invocations []Invocation
	Deps        []string
}

// NodeName identifies the generation node in the build graph.
func (p *Plan) NodeName() string { return p.Target + "_gen" }

// Outputs returns every declared output across all invocations.
func (p *Plan) Outputs() []string {
	var outs []string
	for _, inv := range p.Invocations {
		outs = append(outs, inv.Outputs...)
	}
	return outs
}

type UnitKind int

const (
	// StaticLib archives the generated objects into a conventional library.
	StaticLib UnitKind = iota
	// SourceSet keeps objects separately linkable (component builds only).
	SourceSet
)

func (k UnitKind) String() string {
	if k == SourceSet {
		return "source_set"
	}
	return "static_library"
}

// Unit is the compile node consuming a Plan's native outputs.
type Unit struct {
	Name    string
	Kind    UnitKind
	Sources []string // generated .cc/.h files, never the python stubs

	Defines []string
	Configs []string

	// PublicIncludeDirs let downstream consumers find generated headers.
	PublicIncludeDirs []string
	PublicDeps        []string

	// Deps references the generation node plus any caller-supplied extra
	// dependencies; listing the extras here (not only on the generation
	// node) is what makes linking pull their libraries in.
	Deps       []string
	Visibility []string
}

// Resolve computes the generation plan and compile unit for a target. It
// fails only on malformed target configuration and touches nothing outside
// its arguments.
func Resolve(env Env, t Target) (*Plan, *Unit, error) {
	if len(t.Sources) == 0 {
		return nil, nil, fmt.Errorf("target %q: %w", t.Name, ErrNoSources)
	}
	if t.Plugin.Path != "" && t.Plugin.Suffix == "" {
		return nil, nil, fmt.Errorf("target %q: %w", t.Name, ErrPluginSuffix)
	}
	env = env.withDefaults()

	// protoc is addressed relative to the build dir and "./"-prefixed so it
	// can never resolve against a system search path
	protocRel := "./" + relTo(env.BuildDir, env.ProtocPath)

	plan := &Plan{Target: t.Name}
	for _, src := range t.Sources {
		plan.Invocations = append(plan.Invocations, resolveOne(env, t, src, protocRel))
	}
	plan.Deps = append([]string{env.ProtocDep}, t.Deps...)

	unit := &Unit{
		Name:              t.Name,
		Kind:              unitKind(env, t),
		Sources:           nativeOutputs(plan),
		Defines:           t.Defines,
		Configs:           t.Configs,
		PublicIncludeDirs: []string{env.GenRoot},
		Deps:              append([]string{plan.NodeName()}, t.Deps...),
		Visibility:        t.Visibility,
	}
	if t.Cpp {
		// generated C++ needs the runtime support library; python-only
		// targets must not drag it in
		unit.PublicDeps = []string{env.RuntimeDep}
	}
	if len(unit.Visibility) == 0 {
		unit.Visibility = []string{":" + t.Name}
	}
	return plan, unit, nil
}

func resolveOne(env Env, t Target, src, protocRel string) Invocation {
	srcDir := path.Dir(src)
	base := path.Base(src)
	name := strings.TrimSuffix(base, path.Ext(base))

	outDir := t.OutDir
	if outDir == "" {
		outDir = relTo(env.SourceRoot, srcDir)
	}

	ccOut := path.Join(env.GenRoot, outDir)
	pyOut := path.Join(env.PyGenRoot, outDir)
	relCcOut := relTo(env.BuildDir, ccOut)
	relPyOut := relTo(env.BuildDir, pyOut)

	var args, outputs []string

	if t.Include != "" {
		args = append(args, "--include", t.Include,
			"--header", path.Join(relCcOut, name+".pb.h"))
	}

	// directory and bare filename stay decoupled so the wrapper can run
	// from a working directory other than the source root
	args = append(args, "--proto-in-dir", srcDir, "--proto-in-file", base)
	args = append(args, "--use-system-protoc=0")
	args = append(args, "--", protocRel)

	if t.Python {
		outputs = append(outputs, path.Join(pyOut, name+"_pb2.py"))
		args = append(args, "--python_out", t.PyOptions+relPyOut)
	}
	if t.Cpp {
		outputs = append(outputs,
			path.Join(ccOut, name+".pb.cc"),
			path.Join(ccOut, name+".pb.h"))
		args = append(args, "--cpp_out", t.CcOptions+relCcOut)
	}
	if t.Plugin.Path != "" {
		outputs = append(outputs,
			path.Join(ccOut, name+t.Plugin.Suffix+".cc"),
			path.Join(ccOut, name+t.Plugin.Suffix+".h"))
		args = append(args, "--plugin", t.Plugin.Path,
			"--plugin_out", t.Plugin.Options+relCcOut)
	}

	for _, dir := range t.ImportDirs {
		args = append(args, "-I", dir)
	}

	return Invocation{Source: src, Args: args, Outputs: outputs}
}

func unitKind(env Env, t Target) UnitKind {
	if t.ForceSourceSet && env.ComponentBuild {
		return SourceSet
	}
	return StaticLib
}

// nativeOutputs filters a plan down to the files the compile unit consumes.
func nativeOutputs(p *Plan) []string {
	var outs []string
	for _, inv := range p.Invocations {
		for _, out := range inv.Outputs {
			if strings.HasSuffix(out, ".py") {
				continue
			}
			outs = append(outs, out)
		}
	}
	return outs
}

// relTo returns target relative to base. Both must be slash-separated and
// either both relative or both absolute.
func relTo(base, target string) string {
	base = path.Clean(base)
	target = path.Clean(target)
	if base == "." || base == "" {
		return target
	}
	if target == base {
		return "."
	}
	if strings.HasPrefix(target, base+"/") {
		return target[len(base)+1:]
	}

	baseParts := strings.Split(base, "/")
	targetParts := strings.Split(target, "/")
	common := 0
	for common < len(baseParts) && common < len(targetParts) && baseParts[common] == targetParts[common] {
		common++
	}
	parts := make([]string, 0, len(baseParts)-common+len(targetParts)-common)
	for range baseParts[common:] {
		parts = append(parts, "..")
	}
	parts = append(parts, targetParts[common:]...)
	return path.Join(parts...)
}
