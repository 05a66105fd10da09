package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv() Env {
	return Env{
		SourceRoot: ".",
		BuildDir:   "out",
		ProtocPath: "out/protoc",
		ProtocDep:  "//third_party/protobuf:protoc(host)",
		RuntimeDep: "//third_party/protobuf:protobuf_lite",
	}
}

// testTarget mirrors the manifest defaults: both stub generators enabled.
func testTarget(sources ...string) Target {
	return Target{
		Name:    "messages",
		Sources: sources,
		Python:  true,
		Cpp:     true,
	}
}

func TestResolveDefaultOutDirFollowsSourceTree(t *testing.T) {
	plan, _, err := Resolve(testEnv(), testTarget("media/base/range.proto"))
	require.NoError(t, err)
	require.Len(t, plan.Invocations, 1)

	assert.Equal(t, []string{
		"out/pygen/media/base/range_pb2.py",
		"out/gen/media/base/range.pb.cc",
		"out/gen/media/base/range.pb.h",
	}, plan.Invocations[0].Outputs)
}

func TestResolveOutDirOverrideFlattens(t *testing.T) {
	target := testTarget("media/base/range.proto")
	target.OutDir = "flat"

	plan, _, err := Resolve(testEnv(), target)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"out/pygen/flat/range_pb2.py",
		"out/gen/flat/range.pb.cc",
		"out/gen/flat/range.pb.h",
	}, plan.Invocations[0].Outputs)
}

func TestResolveScenarioBothStubs(t *testing.T) {
	// foo.proto in dir/, no out-dir override, both stubs at their defaults
	plan, unit, err := Resolve(testEnv(), testTarget("dir/foo.proto"))
	require.NoError(t, err)

	require.Len(t, plan.Invocations, 1)
	inv := plan.Invocations[0]
	assert.ElementsMatch(t, []string{
		"out/pygen/dir/foo_pb2.py",
		"out/gen/dir/foo.pb.cc",
		"out/gen/dir/foo.pb.h",
	}, inv.Outputs)

	assert.Equal(t, []string{
		"--proto-in-dir", "dir",
		"--proto-in-file", "foo.proto",
		"--use-system-protoc=0",
		"--", "./protoc",
		"--python_out", "pygen/dir",
		"--cpp_out", "gen/dir",
	}, inv.Args)

	assert.Equal(t, []string{"out/gen/dir/foo.pb.cc", "out/gen/dir/foo.pb.h"}, unit.Sources)
}

func TestResolvePythonStubPerSource(t *testing.T) {
	plan, _, err := Resolve(testEnv(), testTarget("a.proto", "sub/b.proto"))
	require.NoError(t, err)

	var pyOuts []string
	for _, inv := range plan.Invocations {
		for _, out := range inv.Outputs {
			if out[len(out)-3:] == ".py" {
				pyOuts = append(pyOuts, out)
			}
		}
	}
	assert.Equal(t, []string{"out/pygen/a_pb2.py", "out/pygen/sub/b_pb2.py"}, pyOuts)
}

func TestResolveCcOptionsConcatenation(t *testing.T) {
	target := testTarget("dir/foo.proto")
	target.CcOptions = "dllexport_decl=MEDIA_EXPORT:"

	plan, _, err := Resolve(testEnv(), target)
	require.NoError(t, err)

	args := plan.Invocations[0].Args
	idx := indexOf(t, args, "--cpp_out")
	// options glued directly onto the out dir, nothing inserted between
	assert.Equal(t, "dllexport_decl=MEDIA_EXPORT:gen/dir", args[idx+1])
}

func TestResolveIncludeInjectsHeaderArgs(t *testing.T) {
	target := testTarget("dir/foo.proto")
	target.Include = "media/base/media_export.h"

	plan, _, err := Resolve(testEnv(), target)
	require.NoError(t, err)

	args := plan.Invocations[0].Args
	assert.Equal(t, []string{
		"--include", "media/base/media_export.h",
		"--header", "gen/dir/foo.pb.h",
	}, args[:4])
}

func TestResolvePluginOutputsAndFlags(t *testing.T) {
	target := testTarget("dir/foo.proto")
	target.Python = false
	target.Cpp = false
	target.Plugin = Plugin{
		Path:    "out/protoc-gen-media",
		Suffix:  ".media",
		Options: "impl:",
	}

	plan, _, err := Resolve(testEnv(), target)
	require.NoError(t, err)

	inv := plan.Invocations[0]
	assert.Equal(t, []string{
		"out/gen/dir/foo.media.cc",
		"out/gen/dir/foo.media.h",
	}, inv.Outputs)

	idx := indexOf(t, inv.Args, "--plugin")
	assert.Equal(t, "out/protoc-gen-media", inv.Args[idx+1])
	idx = indexOf(t, inv.Args, "--plugin_out")
	assert.Equal(t, "impl:gen/dir", inv.Args[idx+1])
}

func TestResolvePluginWithoutSuffixFails(t *testing.T) {
	target := testTarget("dir/foo.proto")
	target.Plugin.Path = "out/protoc-gen-media"

	plan, unit, err := Resolve(testEnv(), target)
	require.ErrorIs(t, err, ErrPluginSuffix)
	assert.Nil(t, plan)
	assert.Nil(t, unit)
}

func TestResolveNoSourcesFails(t *testing.T) {
	_, _, err := Resolve(testEnv(), testTarget())
	require.ErrorIs(t, err, ErrNoSources)
}

func TestResolveBothStubsDisabled(t *testing.T) {
	target := testTarget("dir/foo.proto")
	target.Python = false
	target.Cpp = false

	plan, unit, err := Resolve(testEnv(), target)
	require.NoError(t, err)
	assert.Empty(t, plan.Outputs())
	assert.Empty(t, unit.Sources)
	// no generated C++, no runtime dependency
	assert.Empty(t, unit.PublicDeps)
}

func TestResolveDeps(t *testing.T) {
	target := testTarget("dir/foo.proto")
	target.Deps = []string{"//media/base:base"}

	plan, unit, err := Resolve(testEnv(), target)
	require.NoError(t, err)

	assert.Equal(t, []string{"//third_party/protobuf:protoc(host)", "//media/base:base"}, plan.Deps)
	assert.Equal(t, "messages_gen", plan.NodeName())
	assert.Equal(t, []string{"messages_gen", "//media/base:base"}, unit.Deps)
	assert.Equal(t, []string{"//third_party/protobuf:protobuf_lite"}, unit.PublicDeps)
	assert.Equal(t, []string{"out/gen"}, unit.PublicIncludeDirs)
	assert.Equal(t, []string{":messages"}, unit.Visibility)
}

func TestResolveUnitKind(t *testing.T) {
	tests := []struct {
		name           string
		forceSourceSet bool
		componentBuild bool
		want           UnitKind
	}{
		{"default", false, false, StaticLib},
		{"forced but static build", true, false, StaticLib},
		{"component build alone", false, true, StaticLib},
		{"forced component build", true, true, SourceSet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testEnv()
			env.ComponentBuild = tt.componentBuild
			target := testTarget("dir/foo.proto")
			target.ForceSourceSet = tt.forceSourceSet

			_, unit, err := Resolve(env, target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, unit.Kind)
		})
	}
}

func TestResolveImportDirs(t *testing.T) {
	target := testTarget("dir/foo.proto")
	target.ImportDirs = []string{"build/_deps/wellknown"}

	plan, _, err := Resolve(testEnv(), target)
	require.NoError(t, err)

	args := plan.Invocations[0].Args
	assert.Equal(t, "build/_deps/wellknown", args[len(args)-1])
	assert.Equal(t, "-I", args[len(args)-2])
}

func TestRelTo(t *testing.T) {
	tests := []struct {
		base, target, want string
	}{
		{"out", "out/gen/dir", "gen/dir"},
		{"out", "out", "."},
		{".", "dir/foo", "dir/foo"},
		{"out/sub", "out/gen", "../gen"},
		{"a/b/c", "a/x", "../../x"},
		{"/root/out", "/root/out/protoc", "protoc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, relTo(tt.base, tt.target), "relTo(%q, %q)", tt.base, tt.target)
	}
}

func indexOf(t *testing.T, args []string, flag string) int {
	t.Helper()
	for i, a := range args {
		if a == flag {
			return i
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
	return -1
}
