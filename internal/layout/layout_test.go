package layout

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/libforge/libforge/internal/artifact"
	"github.com/libforge/libforge/internal/library"
	"github.com/libforge/libforge/internal/platform"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPublishHeaders(t *testing.T) {
	buildDir := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "opus.h"), "opus")
	writeFile(t, filepath.Join(src, "opus_defines.h"), "defines")
	writeFile(t, filepath.Join(src, "README"), "not a header")

	w := NewWriter(buildDir, nil)
	require.NoError(t, w.PublishHeaders(library.Libopus, src))

	data, err := os.ReadFile(filepath.Join(buildDir, "include", "libopus", "opus.h"))
	require.NoError(t, err)
	require.Equal(t, "opus", string(data))
	_, err = os.Stat(filepath.Join(buildDir, "include", "libopus", "README"))
	require.True(t, os.IsNotExist(err))
}

func TestPublishHeadersIdempotentAndConflicting(t *testing.T) {
	buildDir := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "ogg", "ogg.h"), "v1")

	w := NewWriter(buildDir, nil)
	require.NoError(t, w.PublishHeaders(library.Libogg, src))

	// Same content again, e.g. from a second platform's build.
	require.NoError(t, w.PublishHeaders(library.Libogg, src))

	writeFile(t, filepath.Join(src, "ogg", "ogg.h"), "v2")
	err := w.PublishHeaders(library.Libogg, src)
	var conflict *HeaderConflictError
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, library.Libogg, conflict.Library)
	require.Equal(t, filepath.Join("ogg", "ogg.h"), conflict.Path)
}

func TestPublishXCFramework(t *testing.T) {
	buildDir := t.TempDir()
	staged := filepath.Join(buildDir, "xcframework", "libopus-1.5.2.xcframework")
	writeFile(t, filepath.Join(staged, "Info.plist"), "plist")
	writeFile(t, filepath.Join(staged, "ios-arm64", "libopus.a"), "lib")

	// A leftover from an earlier run must be replaced, not merged into.
	writeFile(t, filepath.Join(buildDir, "lib", "darwin", "libopus-1.5.2.xcframework", "stale"), "old")

	w := NewWriter(buildDir, nil)
	dest, err := w.Publish(&artifact.Merged{
		Library: library.Libopus,
		Version: "v1.5.2",
		Kind:    artifact.XCFramework,
		Path:    staged,
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(buildDir, "lib", "darwin", "libopus-1.5.2.xcframework"), dest)

	_, err = os.Stat(filepath.Join(dest, "ios-arm64", "libopus.a"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dest, "stale"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(staged)
	require.True(t, os.IsNotExist(err))
}

func TestPublishABITreeMergesLibraries(t *testing.T) {
	buildDir := t.TempDir()
	w := NewWriter(buildDir, nil)

	stagedOgg := filepath.Join(buildDir, "android", "merged-libogg")
	writeFile(t, filepath.Join(stagedOgg, "arm64-v8a", "libogg-1.3.6", "libogg.so"), "ogg")
	stagedOpus := filepath.Join(buildDir, "android", "merged-libopus")
	writeFile(t, filepath.Join(stagedOpus, "arm64-v8a", "libopus-1.5.2", "libopus.so"), "opus")

	for _, m := range []*artifact.Merged{
		{Library: library.Libogg, Kind: artifact.ABITree, Platform: platform.Android, Path: stagedOgg},
		{Library: library.Libopus, Kind: artifact.ABITree, Platform: platform.Android, Path: stagedOpus},
	} {
		dest, err := w.Publish(m)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(buildDir, "lib", "android"), dest)
	}

	// Both libraries share the ABI root.
	_, err := os.Stat(filepath.Join(buildDir, "lib", "android", "arm64-v8a", "libogg-1.3.6", "libogg.so"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(buildDir, "lib", "android", "arm64-v8a", "libopus-1.5.2", "libopus.so"))
	require.NoError(t, err)
}

func TestPublishUniversalRejected(t *testing.T) {
	w := NewWriter(t.TempDir(), nil)
	_, err := w.Publish(&artifact.Merged{Library: library.Libogg, Kind: artifact.Universal})
	require.Error(t, err)
}

func TestCleanupIntermediates(t *testing.T) {
	buildDir := t.TempDir()
	writeFile(t, filepath.Join(buildDir, "ios", "arm64", "opus", "lib", "libopus.a"), "x")
	writeFile(t, filepath.Join(buildDir, "xcframework", "leftover"), "x")
	writeFile(t, filepath.Join(buildDir, "include", "libopus", "opus.h"), "keep")
	writeFile(t, filepath.Join(buildDir, "lib", "darwin", "keep"), "keep")

	w := NewWriter(buildDir, nil)
	require.NoError(t, w.CleanupIntermediates([]platform.Platform{platform.IOS}))

	_, err := os.Stat(filepath.Join(buildDir, "ios"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(buildDir, "xcframework"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(buildDir, "include", "libopus", "opus.h"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(buildDir, "lib", "darwin", "keep"))
	require.NoError(t, err)
}
