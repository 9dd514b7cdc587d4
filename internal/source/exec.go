package source

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// runCommand executes name with args in dir, capturing combined output.
// On failure the captured output is folded into the error so the caller's
// report shows what git printed.
func runCommand(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %v: %w: %s", name, args, err, bytes.TrimSpace(buf.Bytes()))
	}
	return buf.String(), nil
}
