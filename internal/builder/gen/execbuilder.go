package gen

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/protogen-build/protogen/internal/builder/protocwrap"
	"github.com/protogen-build/protogen/internal/builder/resolve"
	"github.com/protogen-build/protogen/internal/msg"
)

// targetState is the persisted per-target state for incremental builds.
type targetState struct {
	Protos map[string]string `json:"protos,omitempty"` // proto source -> content hash
	Args   map[string]string `json:"args,omitempty"`   // proto source -> argument vector hash
	Gen    map[string]string `json:"gen,omitempty"`    // generated source -> content hash
	Cflags []string          `json:"cflags,omitempty"`
}

// genJob is one pending protoc wrapper invocation.
type genJob struct {
	target  string
	source  string
	args    []string
	outputs []string
}

// compileJob compiles one generated source file.
type compileJob struct {
	src    string // absolute
	obj    string // absolute
	cflags []string
}

// archiveJob archives a unit's objects, or leaves them loose for source sets.
type archiveJob struct {
	name      string
	objs      []string
	out       string
	sourceSet bool
}

// ExecBuilder runs the build itself: generation commands first, then
// compilation and archiving of the generated code, all against a JSON state
// file so unchanged work is skipped.
type ExecBuilder struct {
	root       string // package root, absolute
	tc         Toolchain
	targets    map[string]protoTarget
	buildDir   string
	stateFile  string
	buildState map[string]*targetState
	jobs       int
	hashCache  map[string]string
}

func NewExecBuilder(root string) *ExecBuilder {
	return &ExecBuilder{
		root:       root,
		targets:    make(map[string]protoTarget),
		buildState: make(map[string]*targetState),
		jobs:       runtime.NumCPU(),
		hashCache:  make(map[string]string),
	}
}

func (g *ExecBuilder) SetToolchain(tc Toolchain) { g.tc = tc }

func (g *ExecBuilder) BuildFile() string { return "protogen_build_state.json" }

func (g *ExecBuilder) AddTarget(plan *resolve.Plan, unit *resolve.Unit) {
	g.targets[unit.Name] = protoTarget{plan: plan, unit: unit}
}

func (g *ExecBuilder) Generate() string {
	return "" // no build file needed, state is written after the build
}

// Invoke performs the actual build
func (g *ExecBuilder) Invoke(buildDir string) error {
	g.buildDir = buildDir
	g.stateFile = filepath.Join(buildDir, g.BuildFile())

	if err := g.loadBuildState(); err != nil {
		msg.Warn("failed to load build state: %v", err)
	}

	genJobs, err := g.planGeneration()
	if err != nil {
		return fmt.Errorf("generation planning failed: %w", err)
	}

	if err := runJobs(genJobs, g.runGenJob, g.jobs); err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	compileJobs, archiveJobs, err := g.planCompile()
	if err != nil {
		return fmt.Errorf("compile planning failed: %w", err)
	}

	if len(genJobs) == 0 && len(compileJobs) == 0 && len(archiveJobs) == 0 {
		fmt.Println("protogen: no work to do.")
		return nil
	}

	if err := runJobs(compileJobs, g.runCompileJob, g.jobs); err != nil {
		return fmt.Errorf("compilation failed: %w", err)
	}
	if err := runJobs(archiveJobs, runArchiveJob, g.jobs); err != nil {
		return fmt.Errorf("archiving failed: %w", err)
	}

	if err := g.updateBuildState(); err != nil {
		msg.Warn("failed to update build state: %v", err)
	}
	if err := g.saveBuildState(); err != nil {
		msg.Warn("failed to save build state: %v", err)
	}

	return nil
}

// planGeneration decides which generation commands have to run again.
func (g *ExecBuilder) planGeneration() ([]genJob, error) {
	var jobs []genJob

	for _, name := range sortedNames(g.targets) {
		target := g.targets[name]
		state := g.buildState[name]

		for _, inv := range target.plan.Invocations {
			dirty, err := g.isInvocationDirty(inv, state)
			if err != nil {
				return nil, fmt.Errorf("could not check status of %s: %w", inv.Source, err)
			}
			if dirty {
				jobs = append(jobs, genJob{
					target:  name,
					source:  inv.Source,
					args:    inv.Args,
					outputs: inv.Outputs,
				})
			}
		}
	}

	return jobs, nil
}

func (g *ExecBuilder) isInvocationDirty(inv resolve.Invocation, state *targetState) (bool, error) {
	for _, out := range inv.Outputs {
		if _, err := os.Stat(filepath.Join(g.root, filepath.FromSlash(out))); os.IsNotExist(err) {
			return true, nil
		}
	}

	if state == nil {
		return true, nil
	}
	if state.Args[inv.Source] != hashArgs(inv.Args) {
		return true, nil
	}

	hash, err := g.fileHash(filepath.Join(g.root, filepath.FromSlash(inv.Source)))
	if err != nil {
		if os.IsNotExist(err) {
			return true, fmt.Errorf("proto source %s not found", inv.Source)
		}
		return true, err
	}
	return state.Protos[inv.Source] != hash, nil
}

// planCompile decides which generated sources to recompile and which units
// to re-archive.
func (g *ExecBuilder) planCompile() ([]compileJob, []archiveJob, error) {
	var compileJobs []compileJob
	var archiveJobs []archiveJob

	for _, name := range sortedNames(g.targets) {
		unit := g.targets[name].unit
		state := g.buildState[name]
		cflags := g.unitCflags(unit)
		flagsChanged := state == nil || !slices.Equal(state.Cflags, cflags)

		rearchive := false
		var objs []string
		for _, src := range ccSources(unit.Sources) {
			srcAbs := filepath.Join(g.root, filepath.FromSlash(src))
			objAbs := filepath.Join(g.buildDir, filepath.FromSlash(objPath(name, src)))
			objs = append(objs, objAbs)

			dirty, err := g.isObjectDirty(src, srcAbs, objAbs, state, flagsChanged)
			if err != nil {
				return nil, nil, err
			}
			if dirty {
				compileJobs = append(compileJobs, compileJob{src: srcAbs, obj: objAbs, cflags: cflags})
				rearchive = true
			}
		}

		if unit.Kind == resolve.SourceSet {
			continue // objects stay separately linkable, nothing to archive
		}
		out := filepath.Join(g.buildDir, "lib"+name+".a")
		if _, err := os.Stat(out); os.IsNotExist(err) {
			rearchive = true
		}
		if rearchive && len(objs) > 0 {
			archiveJobs = append(archiveJobs, archiveJob{name: name, objs: objs, out: out})
		}
	}

	return compileJobs, archiveJobs, nil
}

func (g *ExecBuilder) isObjectDirty(src, srcAbs, objAbs string, state *targetState, flagsChanged bool) (bool, error) {
	if flagsChanged {
		return true, nil
	}
	if _, err := os.Stat(objAbs); os.IsNotExist(err) {
		return true, nil
	}

	hash, err := g.fileHash(srcAbs)
	if err != nil {
		return true, err
	}
	return state.Gen[src] != hash, nil
}

func (g *ExecBuilder) unitCflags(unit *resolve.Unit) []string {
	flags := slices.Clone(g.tc.Cflags)
	return append(flags, unitCflags(unit, func(p string) string {
		return filepath.Join(g.root, filepath.FromSlash(p))
	})...)
}

func (g *ExecBuilder) runGenJob(job genJob) error {
	fmt.Printf("PROTOC %s\n", job.source)
	if err := protocwrap.RunInvocation(g.root, g.buildDir, job.args); err != nil {
		return err
	}

	// the declared outputs are a contract: generation must have produced
	// exactly these files
	for _, out := range job.outputs {
		if _, err := os.Stat(filepath.Join(g.root, filepath.FromSlash(out))); err != nil {
			return fmt.Errorf("generation of %s did not produce declared output %s", job.source, out)
		}
	}
	return nil
}

func (g *ExecBuilder) runCompileJob(job compileJob) error {
	if err := os.MkdirAll(filepath.Dir(job.obj), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	args := make([]string, 0, len(job.cflags)+4)
	args = append(args, job.cflags...)
	args = append(args, "-c", job.src, "-o", job.obj)

	cmd := exec.Command(g.tc.Cxx, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	fmt.Printf("CXX %s\n", filepath.Base(job.src))
	return cmd.Run()
}

func runArchiveJob(job archiveJob) error {
	args := []string{"rcs", job.out}
	args = append(args, job.objs...)

	cmd := exec.Command("ar", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	fmt.Printf("AR %s\n", filepath.Base(job.out))
	return cmd.Run()
}

// runJobs runs jobs in parallel
func runJobs[T any](jobs []T, jobfunc func(job T) error, limit int) error {
	if len(jobs) == 0 {
		return nil
	}

	eg, _ := errgroup.WithContext(context.Background())
	eg.SetLimit(limit)

	for _, job := range jobs {
		eg.Go(func() error {
			return jobfunc(job)
		})
	}

	return eg.Wait()
}

// updateBuildState rehashes everything after a successful build.
func (g *ExecBuilder) updateBuildState() error {
	for _, name := range sortedNames(g.targets) {
		target := g.targets[name]
		state := &targetState{
			Protos: make(map[string]string),
			Args:   make(map[string]string),
			Gen:    make(map[string]string),
			Cflags: g.unitCflags(target.unit),
		}

		for _, inv := range target.plan.Invocations {
			hash, err := g.fileHash(filepath.Join(g.root, filepath.FromSlash(inv.Source)))
			if err != nil {
				return fmt.Errorf("failed to hash proto source %s: %w", inv.Source, err)
			}
			state.Protos[inv.Source] = hash
			state.Args[inv.Source] = hashArgs(inv.Args)
		}

		for _, src := range ccSources(target.unit.Sources) {
			hash, err := g.fileHash(filepath.Join(g.root, filepath.FromSlash(src)))
			if err != nil {
				msg.Warn("could not hash generated source %s for state update: %v", src, err)
				continue
			}
			state.Gen[src] = hash
		}

		g.buildState[name] = state
	}
	return nil
}

// loadBuildState loads the previous build state from disk
func (g *ExecBuilder) loadBuildState() error {
	f, err := os.Open(g.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // no previous state, that's fine
		}
		return err
	}
	defer f.Close()
	return json.NewDecoder(bufio.NewReader(f)).Decode(&g.buildState)
}

// saveBuildState saves the current build state to disk
func (g *ExecBuilder) saveBuildState() error {
	data, err := json.MarshalIndent(g.buildState, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(g.stateFile, data, 0644)
}

func hashArgs(args []string) string {
	sum := sha256.Sum256([]byte(strings.Join(args, "\x00")))
	return hex.EncodeToString(sum[:])
}

// fileHash computes the SHA256 hash of a file with an in-memory cache
func (g *ExecBuilder) fileHash(path string) (string, error) {
	if hash, ok := g.hashCache[path]; ok {
		return hash, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	hexHash := hex.EncodeToString(hash.Sum(nil))
	g.hashCache[path] = hexHash
	return hexHash, nil
}
