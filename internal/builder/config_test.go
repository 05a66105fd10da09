package builder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfigEnv() ConfigEnv {
	return ConfigEnv{
		TargetOS:   "linux",
		TargetArch: "amd64",
		Environ:    map[string]string{"PROTOGEN_TEST": "hunter2"},
	}
}

func parseConfigString(t *testing.T, s string) *Config {
	t.Helper()
	cfg, err := ParseConfig(strings.NewReader(s), testConfigEnv())
	require.NoError(t, err)
	return cfg
}

func TestParseConfigDefaults(t *testing.T) {
	cfg := parseConfigString(t, `
[package]
name = "mypkg"

[proto.messages]
sources = ["protos/**.proto"]
`)

	assert.Equal(t, "mypkg", cfg.Package.Name)
	assert.Equal(t, "build/protoc", cfg.Env.Protoc)
	assert.Equal(t, "protoc", cfg.Env.ProtocDep)
	assert.Equal(t, "protobuf-lite", cfg.Env.RuntimeDep)
	assert.False(t, cfg.Env.ComponentBuild)

	target, ok := cfg.Proto["messages"]
	require.True(t, ok)
	assert.Equal(t, "messages", target.Name)
	assert.True(t, target.Python, "python stubs should default to enabled")
	assert.True(t, target.Cpp, "cpp stubs should default to enabled")
	assert.Equal(t, []string{"protos/**.proto"}, target.Sources)

	assert.ElementsMatch(t, []string{"release", "debug"}, cfg.Profiles())
	release, debug := cfg.Profile["release"], cfg.Profile["debug"]
	assert.Equal(t, "2", release.OptLevel.String())
	assert.Equal(t, "", debug.OptLevel.String())
}

func TestParseConfigTargetFields(t *testing.T) {
	cfg := parseConfigString(t, `
[proto.media]
sources = ["media/protos/a.proto"]
out-dir = "media/flat"
python = false
cc-options = "dllexport_decl=MEDIA_EXPORT:"
include = "media/export.h"
import-dirs = ["third_party/protos"]
deps = ["//media:defs"]
force-source-set = true
defines = ["MEDIA_IMPLEMENTATION"]
visibility = ["//media/*"]

[proto.media.plugin]
path = "tools/protoc-gen-events"
suffix = ".events"
options = "generate_cc:"
`)

	target := cfg.Proto["media"]
	assert.Equal(t, "media/flat", target.OutDir)
	assert.False(t, target.Python)
	assert.True(t, target.Cpp)
	assert.Equal(t, "dllexport_decl=MEDIA_EXPORT:", target.CcOptions)
	assert.Equal(t, "media/export.h", target.Include)
	assert.Equal(t, []string{"third_party/protos"}, target.ImportDirs)
	assert.Equal(t, []string{"//media:defs"}, target.Deps)
	assert.True(t, target.ForceSourceSet)
	assert.Equal(t, []string{"MEDIA_IMPLEMENTATION"}, target.Defines)
	assert.Equal(t, []string{"//media/*"}, target.Visibility)

	assert.Equal(t, "tools/protoc-gen-events", target.Plugin.Path)
	assert.Equal(t, ".events", target.Plugin.Suffix)
	assert.Equal(t, "generate_cc:", target.Plugin.Options)
}

func TestParseConfigConditionalSections(t *testing.T) {
	cfg := parseConfigString(t, `
[env]
component-build = true

[proto.messages]
sources = ["protos/**.proto"]

[proto.messages.'target_os == "linux"']
defines = ["USE_EPOLL"]

[proto.messages.'target_os == "plan9"']
defines = ["USE_FICTION"]
`)

	target := cfg.Proto["messages"]
	assert.Equal(t, []string{"USE_EPOLL"}, target.Defines)
	assert.True(t, cfg.Env.ComponentBuild)
}

func TestParseConfigConditionalDisablesStub(t *testing.T) {
	cfg := parseConfigString(t, `
[proto.media]
sources = ["protos/**/*.proto"]

[proto.media.'target_os == "linux"']
python = false
`)

	// an explicit false in a matching conditional sub-table must beat the
	// enabled default
	target := cfg.Proto["media"]
	assert.False(t, target.Python)
	assert.True(t, target.Cpp)
}

func TestParseConfigExpressionInterpolation(t *testing.T) {
	cfg := parseConfigString(t, `
[package]
name = "pkg"
description = "built for {{ target_os }}/{{ target_arch }}"

[proto.messages]
sources = ["protos/{{ environ.PROTOGEN_TEST }}/**.proto"]
`)

	assert.Equal(t, "built for linux/amd64", cfg.Package.Description)
	assert.Equal(t, []string{"protos/hunter2/**.proto"}, cfg.Proto["messages"].Sources)
}

func TestParseConfigProfileOverride(t *testing.T) {
	cfg := parseConfigString(t, `
[profile.release]
opt-level = 3

[profile.small]
opt-level = "s"
`)

	release, small, debug := cfg.Profile["release"], cfg.Profile["small"], cfg.Profile["debug"]
	assert.Equal(t, "3", release.OptLevel.String())
	assert.Equal(t, "s", small.OptLevel.String())
	// untouched defaults survive
	assert.Equal(t, "", debug.OptLevel.String())
}

func TestParseConfigBadToml(t *testing.T) {
	_, err := ParseConfig(strings.NewReader(`[proto.messages`), testConfigEnv())
	assert.Error(t, err)
}

func TestParseConfigBadExpression(t *testing.T) {
	_, err := ParseConfig(strings.NewReader(`
[package]
name = "{{ no_such_variable }}"
`), testConfigEnv())
	assert.Error(t, err)
}

func TestEvaluateString(t *testing.T) {
	env := testConfigEnv()

	tests := []struct {
		in   string
		want string
	}{
		{"no expressions", "no expressions"},
		{"{{ target_os }}", "linux"},
		{"a {{ target_os }} b {{ target_arch }} c", "a linux b amd64 c"},
		{"{{ target_os == \"linux\" }}", "true"},
		{"dangling {{ stays", "dangling {{ stays"},
	}
	for _, tt := range tests {
		got, err := evaluateString(tt.in, env)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
