package builder

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

var commonCxxCompilers = []string{"clang++", "g++", "icpx", "icx", "icpc", "icc", "cl"}

// findCxx attempts to find a C++ compiler for the generated code
func findCxx() string {
	if cxx := os.Getenv("CXX"); cxx != "" {
		return cxx
	}

	for _, compiler := range commonCxxCompilers {
		path, err := exec.LookPath(compiler)
		if err == nil {
			return path
		}
	}

	return ""
}

// ensureProtoc makes sure the build-local protoc executable exists. The
// generation step never resolves protoc against $PATH; when the configured
// path is missing and $PROTOC points at an executable, that binary is copied
// into the build tree so later invocations stay hermetic.
func ensureProtoc(protocPath string) error {
	if stat, err := os.Stat(protocPath); err == nil && !stat.IsDir() {
		return nil
	}

	src := os.Getenv("PROTOC")
	if src == "" {
		return fmt.Errorf("protoc not found at %s (build it first, or set $PROTOC to seed the build tree)", protocPath)
	}

	if err := os.MkdirAll(filepath.Dir(protocPath), 0755); err != nil {
		return err
	}
	return copyExecutable(src, protocPath)
}

func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
