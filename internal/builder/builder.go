package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/protogen-build/protogen/internal/builder/gen"
	"github.com/protogen-build/protogen/internal/builder/resolve"
	"github.com/protogen-build/protogen/internal/msg"
)

const (
	GeneratorExec  = "exec"
	GeneratorNinja = "ninja"
	GeneratorGraph = "graph"
)

// ManifestName is the file a package is configured by.
const ManifestName = "Protogen.toml"

type Builder struct {
	cfg     *Config
	basedir string
	env     ConfigEnv
}

func NewBuilderInDirectory(path string) (*Builder, error) {
	var err error
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	env := NewConfigEnv(path)
	cfg, err := ParseConfigFromFile(filepath.Join(path, ManifestName), env)
	if err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg, basedir: path, env: env}, nil
}

func (b *Builder) Config() *Config { return b.cfg }

func (b *Builder) resolveEnv() resolve.Env {
	return resolve.Env{
		SourceRoot:     ".",
		BuildDir:       "build",
		ProtocPath:     b.cfg.Env.Protoc,
		ProtocDep:      b.cfg.Env.ProtocDep,
		RuntimeDep:     b.cfg.Env.RuntimeDep,
		ComponentBuild: b.cfg.Env.ComponentBuild,
	}
}

// collectSources expands a target's source patterns against the package
// directory, returning slash-separated paths relative to it.
func (b *Builder) collectSources(patterns []string) ([]string, error) {
	var files []string
	fsys := os.DirFS(b.basedir)

	for _, pat := range patterns {
		matches, err := doublestar.Glob(fsys, pat, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("while globbing %s: %w", pat, err)
		}
		files = append(files, matches...)
	}

	slices.Sort(files)
	return slices.Compact(files), nil
}

// fetchDeps materializes [dependencies] into depsDir and returns the import
// directories protoc should search, relative to the package dir.
func (b *Builder) fetchDeps(depsDir string) ([]string, error) {
	var importDirs []string

	names := make([]string, 0, len(b.cfg.Dependencies))
	for name := range b.cfg.Dependencies {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		depPath := filepath.Join(depsDir, name)

		importDir, err := fetchDependency(b.cfg.Dependencies[name], depPath)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch dependency %q: %w", name, err)
		}

		rel, err := filepath.Rel(b.basedir, importDir)
		if err != nil {
			rel = importDir
		}
		importDirs = append(importDirs, filepath.ToSlash(rel))
	}

	return importDirs, nil
}

func createGenerator(generator, basedir, protocPath string) gen.Generator {
	switch generator {
	case GeneratorExec:
		return gen.NewExecBuilder(basedir)
	case GeneratorNinja:
		return gen.NewNinjaGen(protocPath)
	case GeneratorGraph:
		return gen.NewGraphGen()
	default:
		panic("createGenerator: unreachable")
	}
}

func (b *Builder) makeCflags(profile string) ([]string, error) {
	if prof, ok := b.cfg.Profile[profile]; ok {
		var cflags []string
		optLevel := prof.OptLevel.String()
		if optLevel != "" {
			cflags = append(cflags, "-O"+optLevel)
		}
		return cflags, nil
	}
	return nil, fmt.Errorf("unknown profile %q, known profiles: %s", profile, strings.Join(b.cfg.Profiles(), ", "))
}

// lintOptions flags generator option strings missing the trailing ":" the
// external generator's argument syntax requires. The resolver concatenates
// them as-is either way; a missing separator surfaces later as a protoc
// error.
func lintOptions(t resolve.Target) {
	check := func(field, value string) {
		if value != "" && !strings.HasSuffix(value, ":") {
			msg.Warn("proto target %q: %s %q does not end in \":\", protoc will likely reject it", t.Name, field, value)
		}
	}
	check("cc-options", t.CcOptions)
	check("py-options", t.PyOptions)
	check("plugin options", t.Plugin.Options)
}

// resolveTarget expands a target's sources and runs it through the
// resolver.
func (b *Builder) resolveTarget(env resolve.Env, t resolve.Target, importDirs []string) (*resolve.Plan, *resolve.Unit, error) {
	sources, err := b.collectSources(t.Sources)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to collect sources for %s: %w", t.Name, err)
	}
	t.Sources = sources
	t.ImportDirs = append(t.ImportDirs, importDirs...)

	lintOptions(t)
	return resolve.Resolve(env, t)
}

// ResolveTarget resolves a single named proto target without fetching
// dependencies, for inspection.
func (b *Builder) ResolveTarget(name string) (*resolve.Plan, *resolve.Unit, error) {
	t, ok := b.cfg.Proto[name]
	if !ok {
		return nil, nil, fmt.Errorf("no proto target %q, known targets: %s", name, strings.Join(b.cfg.TargetNames(), ", "))
	}
	return b.resolveTarget(b.resolveEnv(), t, nil)
}

// Build resolves every proto target and hands the build graph to the
// selected generator (or builder).
func (b *Builder) Build(profile, generator string) error {
	buildDir := filepath.Join(b.basedir, "build")
	depsDir := filepath.Join(buildDir, "_deps")
	if err := os.MkdirAll(depsDir, 0755); err != nil {
		return err
	}

	cflags, err := b.makeCflags(profile)
	if err != nil {
		return err
	}

	importDirs, err := b.fetchDeps(depsDir)
	if err != nil {
		return fmt.Errorf("failed to resolve dependencies: %w", err)
	}

	env := b.resolveEnv()
	g := createGenerator(generator, b.basedir, b.cfg.Env.Protoc)

	for _, name := range b.cfg.TargetNames() {
		plan, unit, err := b.resolveTarget(env, b.cfg.Proto[name], importDirs)
		if err != nil {
			return err
		}
		g.AddTarget(plan, unit)
	}

	protocAbs := filepath.Join(b.basedir, filepath.FromSlash(b.cfg.Env.Protoc))
	if err := ensureProtoc(protocAbs); err != nil {
		// graph and ninja emission stay useful without the binary present
		if generator == GeneratorExec {
			return err
		}
		msg.Warn("%v", err)
	}

	exe, err := os.Executable()
	if err != nil {
		exe = "protogen"
	}
	g.SetToolchain(gen.Toolchain{
		Protogen: exe,
		Cxx:      findCxx(),
		Cflags:   cflags,
	})

	out := g.Generate()
	if out != "" {
		buildFile := filepath.Join(buildDir, g.BuildFile())
		if err = os.WriteFile(buildFile, []byte(out), 0644); err != nil {
			return err
		}
	}

	return g.Invoke(buildDir)
}
