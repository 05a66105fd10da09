package builder

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"

	"github.com/protogen-build/protogen/internal/index"
)

// Proto dependency sources come in four shapes: a git URL (optionally pinned
// to a branch or revision), a forge shortcut, an archive URL, or a plain
// path to a proto tree already on disk.
var depShortcuts = map[string]string{
	"gh:": "https://github.com/",
	"gl:": "https://gitlab.com/",
	"bb:": "https://bitbucket.org/",
	"sr:": "https://sr.ht/",
	"cb:": "https://codeberg.org/",
}

const (
	gitPrefix   = "git:"
	indexPrefix = "idx:"
)

var errIllegalDep = errors.New("empty or illegal dependency string")

// depSpec is a parsed dependency source string:
//
//	gh:googleapis/googleapis@master//google/api
//	git:https://example.com/protos.git#v1.2.0
//
// `@` pins a branch, `#` pins a revision or tag, a trailing `//dir` selects
// the import directory inside the fetched tree.
type depSpec struct {
	url    string
	branch string
	rev    string
	subdir string
}

func parseDepSpec(raw string) depSpec {
	var spec depSpec

	// look for the `//subdir` separator past any `scheme://` prefix
	search := raw
	if i := strings.Index(raw, "://"); i >= 0 {
		search = raw[i+3:]
	}
	if j := strings.Index(search, "//"); j >= 0 {
		cut := len(raw) - len(search) + j
		spec.subdir = raw[cut+2:]
		raw = raw[:cut]
	}

	raw, spec.rev, _ = strings.Cut(raw, "#")
	raw, spec.branch, _ = strings.Cut(raw, "@")

	if !strings.HasSuffix(raw, ".git") {
		raw += ".git"
	}
	spec.url = raw
	return spec
}

// fetchDependency materializes a proto package into toWhere (unless an
// earlier build already did) and returns the directory protoc should import
// from. The import dir is derived from the dependency string on every build,
// so cached and freshly fetched trees resolve identically.
func fetchDependency(dep string, toWhere string) (string, error) {
	if dep == "" {
		return "", errIllegalDep
	}

	// `idx:` copies a curated proto tree out of the shared package index
	if rest, ok := strings.CutPrefix(dep, indexPrefix); ok {
		if !dirExists(toWhere) {
			idx, err := index.GetIndexAnyhow()
			if err != nil {
				return "", fmt.Errorf("failed to load package index: %w", err)
			}
			if err := os.MkdirAll(toWhere, 0755); err != nil {
				return "", err
			}
			if err := idx.Copy(toWhere, rest); err != nil {
				return "", fmt.Errorf("failed to copy %q from index: %w", rest, err)
			}
		}
		return toWhere, nil
	}

	if rest, ok := strings.CutPrefix(dep, gitPrefix); ok {
		return fetchGitDep(parseDepSpec(rest), toWhere)
	}
	for shortcut, base := range depShortcuts {
		if rest, ok := strings.CutPrefix(dep, shortcut); ok {
			return fetchGitDep(parseDepSpec(base+rest), toWhere)
		}
	}

	if isURL(dep) {
		if dirExists(toWhere) {
			return toWhere, nil
		}
		if err := os.MkdirAll(toWhere, 0755); err != nil {
			return "", err
		}
		return downloadAndExtractArchive(dep, toWhere)
	}

	// a plain path to a local proto tree, nothing to fetch or cache
	return dep, nil
}

func dirExists(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && stat.IsDir()
}

func isURL(maybeURL string) bool {
	u, err := url.Parse(maybeURL)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// fetchGitDep clones the spec's remote into toWhere unless a clone from an
// earlier build is already there, then selects the import directory.
func fetchGitDep(spec depSpec, toWhere string) (string, error) {
	if !dirExists(toWhere) {
		if err := cloneDep(spec, toWhere); err != nil {
			return "", err
		}
	}
	if spec.subdir == "" {
		return toWhere, nil
	}
	importDir := filepath.Join(toWhere, filepath.FromSlash(path.Clean("/"+spec.subdir)))
	if !dirExists(importDir) {
		return "", fmt.Errorf("dependency subdirectory %q does not exist in %s", spec.subdir, spec.url)
	}
	return importDir, nil
}

// cloneDep clones the spec's remote into toWhere.
func cloneDep(spec depSpec, toWhere string) error {
	opts := &git.CloneOptions{
		URL:               spec.url,
		Progress:          os.Stdout,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	}
	if spec.rev == "" {
		opts.Depth = 1 // shallow clone of the latest commit is enough
	}
	if spec.branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(spec.branch)
		opts.SingleBranch = true
	}

	repo, err := git.PlainClone(toWhere, opts)
	if err != nil {
		return err
	}

	if spec.rev != "" {
		return checkoutRevision(repo, spec.rev)
	}
	return nil
}

func checkoutRevision(repo *git.Repository, rev string) error {
	w, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("could not get worktree: %w", err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return fmt.Errorf("could not resolve revision `%s`: %w", rev, err)
	}

	if err := w.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("failed to checkout `%s`: %w", rev, err)
	}
	return nil
}
