package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePackage(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func TestNewBuilderInDirectory(t *testing.T) {
	dir := writePackage(t, map[string]string{
		"Protogen.toml": `
[package]
name = "demo"

[proto.messages]
sources = ["protos/**/*.proto"]
`,
		"protos/foo.proto":     `syntax = "proto3";`,
		"protos/sub/bar.proto": `syntax = "proto3";`,
	})

	b, err := NewBuilderInDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, "demo", b.Config().Package.Name)
	assert.Equal(t, []string{"messages"}, b.Config().TargetNames())
}

func TestNewBuilderInDirectoryNoManifest(t *testing.T) {
	_, err := NewBuilderInDirectory(t.TempDir())
	assert.Error(t, err)
}

func TestResolveTargetEndToEnd(t *testing.T) {
	dir := writePackage(t, map[string]string{
		"Protogen.toml": `
[proto.messages]
sources = ["protos/**/*.proto"]
`,
		"protos/foo.proto":     `syntax = "proto3";`,
		"protos/sub/bar.proto": `syntax = "proto3";`,
		"protos/README.md":     "not a proto",
	})

	b, err := NewBuilderInDirectory(dir)
	require.NoError(t, err)

	plan, unit, err := b.ResolveTarget("messages")
	require.NoError(t, err)

	// globbed sources come back sorted and filtered
	require.Len(t, plan.Invocations, 2)
	assert.Equal(t, "protos/foo.proto", plan.Invocations[0].Source)
	assert.Equal(t, "protos/sub/bar.proto", plan.Invocations[1].Source)

	assert.Equal(t, "messages_gen", plan.NodeName())
	assert.Equal(t, []string{"protoc"}, plan.Deps)
	assert.Equal(t, []string{"protobuf-lite"}, unit.PublicDeps)
	assert.Contains(t, unit.Sources, "build/gen/protos/foo.pb.cc")
	assert.Contains(t, unit.Sources, "build/gen/protos/sub/bar.pb.cc")
}

func TestResolveTargetUnknown(t *testing.T) {
	dir := writePackage(t, map[string]string{
		"Protogen.toml": `
[proto.messages]
sources = ["protos/**/*.proto"]
`,
	})

	b, err := NewBuilderInDirectory(dir)
	require.NoError(t, err)

	_, _, err = b.ResolveTarget("nope")
	assert.ErrorContains(t, err, `no proto target "nope"`)
}

func TestFetchDepsStableAcrossBuilds(t *testing.T) {
	dir := writePackage(t, map[string]string{
		"Protogen.toml": `
[proto.messages]
sources = ["protos/**/*.proto"]

[dependencies]
ext = "vendored/protos"
`,
		"vendored/protos/defs.proto": `syntax = "proto3";`,
	})
	b, err := NewBuilderInDirectory(dir)
	require.NoError(t, err)

	depsDir := filepath.Join(dir, "build", "_deps")
	require.NoError(t, os.MkdirAll(depsDir, 0755))

	first, err := b.fetchDeps(depsDir)
	require.NoError(t, err)
	second, err := b.fetchDeps(depsDir)
	require.NoError(t, err)

	// the -I dirs must not drift between the first and later builds
	assert.Equal(t, []string{"vendored/protos"}, first)
	assert.Equal(t, first, second)
}

func TestMakeCflags(t *testing.T) {
	dir := writePackage(t, map[string]string{
		"Protogen.toml": `
[proto.messages]
sources = ["protos/**/*.proto"]
`,
	})
	b, err := NewBuilderInDirectory(dir)
	require.NoError(t, err)

	cflags, err := b.makeCflags("release")
	require.NoError(t, err)
	assert.Equal(t, []string{"-O2"}, cflags)

	cflags, err = b.makeCflags("debug")
	require.NoError(t, err)
	assert.Empty(t, cflags)

	_, err = b.makeCflags("turbo")
	assert.ErrorContains(t, err, `unknown profile "turbo"`)
}
