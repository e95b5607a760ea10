// Package media wraps the ffmpeg/ffprobe binaries used across the pipeline.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/bobarin/clipforge/internal/apperrors"
)

// Run executes a tool and returns its stdout. Any failure (binary missing,
// non-zero exit, context cancelled) comes back as an ExternalToolError
// carrying the captured stderr.
func Run(ctx context.Context, tool, path, op string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		return nil, apperrors.NewExternalTool(tool, op, -1, nil, fmt.Errorf("%s not found: %w", path, err))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, apperrors.NewExternalTool(tool, op, -1, stderr.Bytes(), ctxErr)
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	return nil, apperrors.NewExternalTool(tool, op, exitCode, stderr.Bytes(), err)
}
