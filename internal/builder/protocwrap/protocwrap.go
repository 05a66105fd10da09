// Package protocwrap executes a single generation command: the argument
// vector computed by the resolve package, interpreted against a package root
// and a build directory. Both the ninja rule and the exec builder funnel
// through RunInvocation.
package protocwrap

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	errWrapperNoInput  = errors.New("missing --proto-in-dir/--proto-in-file")
	errWrapperNoProtoc = errors.New("missing `--` separator and protoc path")
	errSystemProtoc    = errors.New("refusing to run a system protoc (--use-system-protoc=0)")
)

// wrapperInvocation is one parsed generation command, the argument layout
// produced by the resolve package.
type wrapperInvocation struct {
	include     string // header to inject into the generated .pb.h
	header      string // generated .pb.h path, relative to the build dir
	protoInDir  string
	protoInFile string
	allowSystem bool
	protoc      string   // "./"-prefixed path relative to the build dir
	passthrough []string // generator flags handed to protoc
}

func parseWrapperArgs(args []string) (*wrapperInvocation, error) {
	inv := &wrapperInvocation{}

	i := 0
	next := func() (string, error) {
		i++
		if i >= len(args) {
			return "", fmt.Errorf("flag %s needs a value", args[i-1])
		}
		return args[i], nil
	}

	var err error
	for ; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			goto protoc
		}

		switch {
		case arg == "--include":
			inv.include, err = next()
		case arg == "--header":
			inv.header, err = next()
		case arg == "--proto-in-dir":
			inv.protoInDir, err = next()
		case arg == "--proto-in-file":
			inv.protoInFile, err = next()
		case strings.HasPrefix(arg, "--use-system-protoc="):
			inv.allowSystem = strings.TrimPrefix(arg, "--use-system-protoc=") == "1"
		default:
			err = fmt.Errorf("unknown wrapper flag %q", arg)
		}
		if err != nil {
			return nil, err
		}
	}
	return nil, errWrapperNoProtoc

protoc:
	i++
	if i >= len(args) {
		return nil, errWrapperNoProtoc
	}
	inv.protoc = args[i]
	inv.passthrough = args[i+1:]

	if inv.protoInDir == "" || inv.protoInFile == "" {
		return nil, errWrapperNoInput
	}
	return inv, nil
}

// RunInvocation executes one generation command: it resolves the argument
// contract against the package root and build directory, creates the output
// directories, runs protoc, then injects the export-macro include into the
// generated header if one was requested.
func RunInvocation(root, buildDir string, args []string) error {
	inv, err := parseWrapperArgs(args)
	if err != nil {
		return err
	}

	protocPath, err := inv.resolveProtoc(buildDir)
	if err != nil {
		return err
	}

	argv, err := inv.protocArgs(root, buildDir)
	if err != nil {
		return err
	}

	cmd := exec.Command(protocPath, argv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("protoc failed for %s: %w", inv.protoInFile, err)
	}

	if inv.include != "" && inv.header != "" {
		if err := injectInclude(filepath.Join(buildDir, filepath.FromSlash(inv.header)), inv.include); err != nil {
			return fmt.Errorf("failed to inject include into %s: %w", inv.header, err)
		}
	}
	return nil
}

func (inv *wrapperInvocation) resolveProtoc(buildDir string) (string, error) {
	if rest, ok := strings.CutPrefix(inv.protoc, "./"); ok {
		return filepath.Join(buildDir, filepath.FromSlash(rest)), nil
	}
	if !inv.allowSystem {
		return "", fmt.Errorf("%w: %s", errSystemProtoc, inv.protoc)
	}
	return exec.LookPath(inv.protoc)
}

// protocArgs translates the pass-through generator flags into a protoc
// argument vector with absolute paths, creating output directories on the
// way.
func (inv *wrapperInvocation) protocArgs(root, buildDir string) ([]string, error) {
	var argv []string
	pluginName := ""

	pt := inv.passthrough
	for i := 0; i < len(pt); i++ {
		if i+1 >= len(pt) {
			return nil, fmt.Errorf("generator flag %s needs a value", pt[i])
		}
		switch flag := pt[i]; flag {
		case "--python_out", "--cpp_out":
			i++
			out, err := resolveOutValue(buildDir, pt[i])
			if err != nil {
				return nil, err
			}
			argv = append(argv, flag+"="+out)
		case "--plugin":
			i++
			pluginPath := absAgainst(root, pt[i])
			pluginName = pluginBaseName(pluginPath)
			argv = append(argv, "--plugin=protoc-gen-"+pluginName+"="+pluginPath)
		case "--plugin_out":
			i++
			if pluginName == "" {
				return nil, errors.New("--plugin_out given before --plugin")
			}
			out, err := resolveOutValue(buildDir, pt[i])
			if err != nil {
				return nil, err
			}
			argv = append(argv, "--"+pluginName+"_out="+out)
		case "-I":
			i++
			argv = append(argv, "-I"+absAgainst(root, pt[i]))
		default:
			return nil, fmt.Errorf("unknown generator flag %q", flag)
		}
	}

	inDir := absAgainst(root, inv.protoInDir)
	argv = append(argv, "-I"+inDir, filepath.Join(inDir, inv.protoInFile))
	return argv, nil
}

// resolveOutValue splits an `<options><dir>` flag value, makes the directory
// part absolute against the build dir and creates it. The options part, when
// present, ends at the last ":".
func resolveOutValue(buildDir, value string) (string, error) {
	opts := ""
	dir := value
	if i := strings.LastIndex(value, ":"); i >= 0 {
		opts, dir = value[:i+1], value[i+1:]
	}
	absDir := absAgainst(buildDir, dir)
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return "", err
	}
	return opts + absDir, nil
}

func absAgainst(base, p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func pluginBaseName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimPrefix(base, "protoc-gen-")
}

// injectInclude prepends an #include to a generated header, so callers can
// hand export macros to the generated code.
func injectInclude(headerPath, include string) error {
	data, err := os.ReadFile(headerPath)
	if err != nil {
		return err
	}
	patched := append([]byte(fmt.Sprintf("#include %q\n", include)), data...)
	return os.WriteFile(headerPath, patched, 0644)
}
