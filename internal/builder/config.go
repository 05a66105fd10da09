package builder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/pelletier/go-toml/v2"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/protogen-build/protogen/internal/builder/resolve"
)

var defaultProfiles = map[string]ProfileSection{
	"release": {
		OptLevel: intOrString{Value: 2},
	},
	"debug": {
		OptLevel: intOrString{Value: ""}, // no -O
	},
}

// Config is a parsed Protogen.toml manifest.
type Config struct {
	Package      PackageSection            `toml:"package"`
	Env          EnvSection                `toml:"env"`
	Proto        map[string]resolve.Target `toml:"proto"`
	Dependencies map[string]string         `toml:"dependencies"`
	Profile      map[string]ProfileSection `toml:"profile"`
}

func (c Config) Profiles() []string {
	profiles := make([]string, 0, len(c.Profile))
	for k := range c.Profile {
		profiles = append(profiles, k)
	}
	slices.Sort(profiles)
	return profiles
}

// TargetNames returns the proto target names in a stable order.
func (c Config) TargetNames() []string {
	names := make([]string, 0, len(c.Proto))
	for k := range c.Proto {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

type intOrString struct {
	Value any
}

func (o *intOrString) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case int64:
		o.Value = int(val)
	case string:
		o.Value = val
	default:
		return fmt.Errorf("unexpected type: %T", v)
	}
	return nil
}

func (o *intOrString) String() string {
	if o == nil || o.Value == nil {
		return ""
	}

	switch v := o.Value.(type) {
	case int:
		return strconv.Itoa(v)
	case string:
		return v
	default:
		return ""
	}
}

// ProfileSection defines the [profile.*] section, controlling how generated
// native code is compiled.
type ProfileSection struct {
	OptLevel intOrString `toml:"opt-level"`
}

// PackageSection defines the [package] section
type PackageSection struct {
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Authors     []string `toml:"authors"`
}

// EnvSection defines the [env] section: where protoc lives in the build
// tree and how the runtime support library is referenced.
type EnvSection struct {
	Protoc         string `toml:"protoc"`
	ProtocDep      string `toml:"protoc-dep"`
	RuntimeDep     string `toml:"runtime-dep"`
	ComponentBuild bool   `toml:"component-build"`
}

// defaultTarget carries the documented field defaults: both stub generators
// are enabled unless the manifest explicitly disables them.
func defaultTarget(name string) resolve.Target {
	return resolve.Target{
		Name:   name,
		Python: true,
		Cpp:    true,
	}
}

// mergeStructs merges the fields of the src struct into the dst struct.
// present holds the manifest keys actually set in src, so an explicit zero
// value (notably `python = false` against its enabled default) still
// overrides dst.
func mergeStructs(dst, src any, present map[string]bool) error {
	dstVal := reflect.ValueOf(dst)
	if dstVal.Kind() != reflect.Pointer || dstVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("dst must be a pointer to a struct")
	}

	dstElem := dstVal.Elem()
	srcVal := reflect.ValueOf(src)

	if srcVal.Kind() == reflect.Pointer {
		srcVal = srcVal.Elem()
	}

	if srcVal.Kind() != reflect.Struct {
		return fmt.Errorf("src must be a struct or a pointer to a struct")
	}

	if dstElem.Type() != srcVal.Type() {
		return fmt.Errorf("dst and src must be of the same struct type")
	}

	for i := range srcVal.NumField() {
		srcField := srcVal.Field(i)
		dstField := dstElem.Field(i)

		if !dstField.CanSet() {
			continue
		}
		explicit := present[tomlFieldKey(dstElem.Type().Field(i))]

		switch dstField.Kind() {
		case reflect.Slice:
			if !srcField.IsNil() {
				dstField.Set(reflect.AppendSlice(dstField, srcField))
			}
		case reflect.Map:
			if !srcField.IsNil() {
				if dstField.IsNil() {
					dstField.Set(reflect.MakeMap(dstField.Type()))
				}
				for _, key := range srcField.MapKeys() {
					dstField.SetMapIndex(key, srcField.MapIndex(key))
				}
			}
		case reflect.Bool:
			if explicit {
				dstField.SetBool(srcField.Bool())
			}
		default:
			if explicit || !srcField.IsZero() {
				dstField.Set(srcField)
			}
		}
	}

	return nil
}

// tomlFieldKey returns the manifest key a struct field decodes from.
func tomlFieldKey(f reflect.StructField) string {
	if tag, _, _ := strings.Cut(f.Tag.Get("toml"), ","); tag != "" && tag != "-" {
		return tag
	}
	return strings.ToLower(f.Name)
}

func mustMarshal(v any) string {
	b, err := toml.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// unmarshalSection is a helper to parse sections without conditional logic
func unmarshalSection(rawCfg map[string]any, name string, dst any) error {
	if data, ok := rawCfg[name]; ok {
		if err := toml.Unmarshal([]byte(mustMarshal(data)), dst); err != nil {
			return fmt.Errorf("failed to parse [%s] section: %w", name, err)
		}
	}
	return nil
}

// decodeConditionalMap parses a section map, evaluating sub-tables whose key
// compiles as an expr expression and merging them into dst when they hold.
func decodeConditionalMap[T any](sectionMap map[string]any, name string, dst *T, env ConfigEnv) error {
	baseFields := make(map[string]any)
	conditionalFields := make(map[string]map[string]any)

	for key, val := range sectionMap {
		if subMap, ok := val.(map[string]any); ok {
			if _, err := expr.Compile(key, expr.Env(env)); err == nil {
				conditionalFields[key] = subMap
				continue
			}
		}
		baseFields[key] = val
	}

	if len(baseFields) > 0 {
		if err := toml.Unmarshal([]byte(mustMarshal(baseFields)), dst); err != nil {
			return fmt.Errorf("failed to parse base [%s] section: %w", name, err)
		}
	}

	for expression, condMap := range conditionalFields {
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return fmt.Errorf("failed to compile expression for [%s.%q]: %w", name, expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return fmt.Errorf("failed to run expression for [%s.%q]: %w", name, expression, err)
		}

		// merge sections if the result is true
		if matched, ok := result.(bool); !ok || !matched {
			continue
		}

		var condSection T
		if err := toml.Unmarshal([]byte(mustMarshal(condMap)), &condSection); err != nil {
			return fmt.Errorf("failed to parse conditional section [%s.%q]: %w", name, expression, err)
		}
		present := make(map[string]bool, len(condMap))
		for key := range condMap {
			present[key] = true
		}
		if err := mergeStructs(dst, condSection, present); err != nil {
			return fmt.Errorf("failed to merge conditional section [%s.%q]: %w", name, expression, err)
		}
	}

	return nil
}

// unmarshalConditionalSection looks the named section up and decodes it with
// conditional sub-table support.
func unmarshalConditionalSection[T any](rawCfg map[string]any, name string, dst *T, env ConfigEnv) error {
	sectionData, ok := rawCfg[name]
	if !ok {
		return nil
	}

	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid [%s] section format: expected a table", name)
	}

	return decodeConditionalMap(sectionMap, name, dst, env)
}

// unmarshalProtoTargets decodes every [proto.<name>] table into a Target
// seeded with the documented defaults.
func unmarshalProtoTargets(rawCfg map[string]any, env ConfigEnv) (map[string]resolve.Target, error) {
	sectionData, ok := rawCfg["proto"]
	if !ok {
		return nil, nil
	}

	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return nil, errors.New("invalid [proto] section format: expected a table of targets")
	}

	targets := make(map[string]resolve.Target, len(sectionMap))
	for name, data := range sectionMap {
		targetMap, ok := data.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid [proto.%s] section format: expected a table", name)
		}

		target := defaultTarget(name)
		if err := decodeConditionalMap(targetMap, "proto."+name, &target, env); err != nil {
			return nil, err
		}
		target.Name = name
		targets[name] = target
	}

	return targets, nil
}

// ParseConfig parses a Protogen.toml manifest. String values may contain
// {{ ... }} expressions, evaluated against env before decoding.
func ParseConfig(rdr io.Reader, env ConfigEnv) (*Config, error) {
	var rawConfig map[string]any
	dec := toml.NewDecoder(rdr)
	if err := dec.Decode(&rawConfig); err != nil {
		if derr, ok := err.(*toml.DecodeError); ok {
			return nil, errors.New(derr.String())
		}
		return nil, err
	}

	processedConfig, err := processExpressions(rawConfig, env)
	if err != nil {
		return nil, fmt.Errorf("error processing expressions in config: %w", err)
	}
	rawConfig = processedConfig.(map[string]any)

	cfg := new(Config)
	cfg.Profile = maps.Clone(defaultProfiles)
	cfg.Env = EnvSection{
		Protoc:     "build/protoc",
		ProtocDep:  "protoc",
		RuntimeDep: "protobuf-lite",
	}

	if err := unmarshalSection(rawConfig, "package", &cfg.Package); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "env", &cfg.Env, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "dependencies", &cfg.Dependencies, env); err != nil {
		return nil, err
	}
	if err := unmarshalConditionalSection(rawConfig, "profile", &cfg.Profile, env); err != nil {
		return nil, err
	}
	if cfg.Proto, err = unmarshalProtoTargets(rawConfig, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseConfigFromFile parses and validates a config file from a filepath
func ParseConfigFromFile(path string, env ConfigEnv) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseConfig(bufio.NewReader(f), env)
}

//
// expr-lang helpers
//

// evaluateString finds and evaluates all {{...}} expressions in a string
func evaluateString(s string, env ConfigEnv) (string, error) {
	start := strings.Index(s, "{{")
	if start < 0 {
		return s, nil
	}

	var builder strings.Builder
	for start >= 0 {
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			break
		}
		end += start

		builder.WriteString(s[:start])

		expression := strings.TrimSpace(s[start+2 : end])
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("failed to compile expression %q: %w", expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return "", fmt.Errorf("failed to run expression %q: %w", expression, err)
		}

		fmt.Fprintf(&builder, "%v", result)
		s = s[end+2:]
		start = strings.Index(s, "{{")
	}
	builder.WriteString(s)

	return builder.String(), nil
}

// processExpressions recursively walks the parsed TOML data and evaluates expressions in strings
func processExpressions(data any, env ConfigEnv) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			processedVal, err := processExpressions(val, env)
			if err != nil {
				return nil, err
			}
			v[key] = processedVal
		}
		return v, nil
	case []any:
		for i, item := range v {
			processedItem, err := processExpressions(item, env)
			if err != nil {
				return nil, err
			}
			v[i] = processedItem
		}
		return v, nil
	case string:
		return evaluateString(v, env)
	default:
		return data, nil
	}
}

// ConfigEnv is the evaluation environment for manifest expressions.
type ConfigEnv struct {
	TargetOS   string            `expr:"target_os"`
	TargetArch string            `expr:"target_arch"`
	Environ    map[string]string `expr:"environ"`
	basedir    string
}

func NewConfigEnv(basedir string) ConfigEnv {
	environ := make(map[string]string)
	for _, e := range os.Environ() {
		if i := strings.Index(e, "="); i >= 0 {
			environ[e[:i]] = e[i+1:]
		}
	}

	return ConfigEnv{
		TargetOS:   runtime.GOOS,
		TargetArch: runtime.GOARCH,
		Environ:    environ,
		basedir:    basedir,
	}
}

// Patch applies a diff-match-patch text patch to a file in the package
// directory. Manifests use it to fix up fetched proto trees in place.
func (env ConfigEnv) Patch(path, patchText string) bool {
	fullPath := filepath.Join(env.basedir, path)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		panic(err)
	}
	origText := string(data)

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		panic(err)
	}
	patchedText, results := dmp.PatchApply(patches, origText)
	for _, ok := range results {
		if ok {
			goto applied
		}
	}
	return false // nothing was applied, nothing to write

applied:
	err = os.WriteFile(fullPath, []byte(patchedText), 0644)
	if err != nil {
		panic(err)
	}

	return true
}

func (env ConfigEnv) ReadFile(path string) (string, error) {
	fullPath := filepath.Join(env.basedir, path)
	if _, err := filepath.Rel(env.basedir, fullPath); err != nil {
		panic(fmt.Sprintf("path %q is outside of package directory %q", path, env.basedir))
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", err
	}

	return string(data), nil
}
