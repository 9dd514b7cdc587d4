package toolchain

import (
	"context"

	"github.com/libforge/libforge/internal/matrix"
	"github.com/libforge/libforge/internal/platform"
)

// unsupportedDriver is the explicit variant for platforms outside the
// capability table. It never attempts a best-effort build.
type unsupportedDriver struct {
	platform platform.Platform
}

func (d *unsupportedDriver) Build(ctx context.Context, unit matrix.Unit, sourceDir string) (*Artifact, error) {
	return nil, &Error{
		Unit:  unit,
		Stage: StagePrepare,
		Err:   &platform.UnsupportedError{Platform: d.platform},
	}
}
