// Package layout publishes merged artifacts and headers into the
// conventional output tree:
//
//	build/include/<library>/...
//	build/lib/darwin/<library>-<version>.xcframework
//	build/lib/<platform>/<abi>/<library>-<version>/<file>
//
// Publication is the last stage of a build; everything under
// build/<platform>/ is an intermediate and is discarded afterwards.
package layout

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/libforge/libforge/internal/artifact"
	"github.com/libforge/libforge/internal/fsx"
	"github.com/libforge/libforge/internal/library"
	"github.com/libforge/libforge/internal/platform"
)

// HeaderConflictError reports two libraries (or two versions of one) trying
// to publish a header at the same relative path with different content.
type HeaderConflictError struct {
	Library library.Library
	Path    string
}

func (e *HeaderConflictError) Error() string {
	return fmt.Sprintf("header conflict: %s publishes %s with content differing from the already published copy", e.Library, e.Path)
}

// Writer publishes into the output tree rooted at buildDir.
type Writer struct {
	buildDir string
	log      *zap.SugaredLogger
}

func NewWriter(buildDir string, log *zap.SugaredLogger) *Writer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Writer{buildDir: buildDir, log: log}
}

// IncludeDir returns the published header directory for lib.
func (w *Writer) IncludeDir(lib library.Library) string {
	return filepath.Join(w.buildDir, "include", string(lib))
}

// PublishHeaders copies the .h files under headerDir into
// build/include/<lib>/, preserving relative paths. Headers are published
// once per library; a re-publish with identical content is a no-op, a
// re-publish with different content is a HeaderConflictError.
func (w *Writer) PublishHeaders(lib library.Library, headerDir string) error {
	dest := w.IncludeDir(lib)
	return filepath.Walk(headerDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".h") {
			return nil
		}
		rel, err := filepath.Rel(headerDir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if existing, err := os.ReadFile(target); err == nil {
			if bytes.Equal(existing, data) {
				return nil
			}
			return &HeaderConflictError{Library: lib, Path: rel}
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		w.log.Debugf("publishing header %s/%s", lib, rel)
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}

// Publish moves a staged merged artifact to its final location and returns
// that location. Universal binaries are intermediates on the way to an
// xcframework and are not publishable on their own.
func (w *Writer) Publish(m *artifact.Merged) (string, error) {
	switch m.Kind {
	case artifact.XCFramework:
		dest := filepath.Join(w.buildDir, "lib", "darwin", filepath.Base(m.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", err
		}
		// Replace any previous publication wholesale; a stale bundle
		// mixed with a fresh one is not a valid xcframework.
		if err := os.RemoveAll(dest); err != nil {
			return "", err
		}
		if err := fsx.Rename(m.Path, dest); err != nil {
			return "", err
		}
		w.log.Infof("published %s", dest)
		return dest, nil
	case artifact.ABITree:
		dest := filepath.Join(w.buildDir, "lib", string(m.Platform))
		// Merge into the platform tree; other libraries publish
		// sibling directories under the same ABI roots.
		if err := fsx.CopyTree(m.Path, dest); err != nil {
			return "", err
		}
		w.log.Infof("published %s under %s", m.Library, dest)
		return dest, nil
	default:
		return "", fmt.Errorf("artifact kind %d for %s is not publishable", m.Kind, m.Library)
	}
}

// CleanupIntermediates removes the per-platform work trees and the
// xcframework staging area, leaving only include/ and lib/ under buildDir.
func (w *Writer) CleanupIntermediates(platforms []platform.Platform) error {
	dirs := []string{filepath.Join(w.buildDir, "xcframework")}
	for _, p := range platforms {
		dirs = append(dirs, filepath.Join(w.buildDir, string(p)))
	}
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	return nil
}
