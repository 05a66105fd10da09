package builder

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/protogen-build/protogen/internal/msg"
)

// downloadAndExtractArchive fetches a .tar.gz/.tgz/.zip proto package and
// unpacks it into toWhere.
func downloadAndExtractArchive(url, toWhere string) (string, error) {
	resp, err := http.Get(url)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp("", "protogen-dep-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	pb := msg.NewProgressBar(resp.ContentLength, os.Stdout)
	if _, err := io.Copy(io.MultiWriter(tmp, pb), resp.Body); err != nil {
		return "", fmt.Errorf("failed to download %s: %w", url, err)
	}
	pb.Finish()

	switch {
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		err = extractTarGz(tmp.Name(), toWhere)
	case strings.HasSuffix(url, ".zip"):
		err = extractZip(tmp.Name(), toWhere)
	default:
		err = fmt.Errorf("unsupported archive format: %s", url)
	}
	if err != nil {
		return "", err
	}
	return toWhere, nil
}

// safeJoin joins name under dir, refusing paths that escape it.
func safeJoin(dir, name string) (string, error) {
	joined := filepath.Join(dir, filepath.FromSlash(name))
	if rel, err := filepath.Rel(dir, joined); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("archive entry %q escapes the target directory", name)
	}
	return joined, nil
}

func extractTarGz(archivePath, toWhere string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("not a gzip archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		dst, err := safeJoin(toWhere, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(dst, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		}
	}
}

func extractZip(archivePath, toWhere string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("not a zip archive: %w", err)
	}
	defer zr.Close()

	for _, file := range zr.File {
		dst, err := safeJoin(toWhere, file.Name)
		if err != nil {
			return err
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0755); err != nil {
				return err
			}
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return err
		}
		err = writeEntry(dst, rc, file.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(dst string, src io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, src)
	return err
}
