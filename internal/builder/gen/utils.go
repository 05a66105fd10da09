package gen

import (
	"path"
	"sort"
	"strings"
)

func write(sb *strings.Builder, s ...string) {
	for _, str := range s {
		sb.WriteString(str)
	}
}
func writeln(sb *strings.Builder, s ...string) {
	for _, str := range s {
		sb.WriteString(str)
	}
	sb.WriteByte('\n')
}

// objPath maps a generated source file to its object file below the
// per-target object directory.
func objPath(unitName, src string) string {
	return path.Join("ProtoFiles", unitName+".dir", path.Base(src)+".obj")
}

// ccSources filters a compile unit's source list down to compilable files
// (the generated headers are inputs, not compilation units).
func ccSources(sources []string) []string {
	var out []string
	for _, src := range sources {
		if strings.HasSuffix(src, ".cc") {
			out = append(out, src)
		}
	}
	return out
}

func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
