package utils

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/xerrors"
)

// ExitError is returned when a command ran but did not succeed.
type ExitError struct {
	Command  []string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", strings.Join(e.Command, " "), e.ExitCode, strings.TrimSpace(e.Stderr))
}

// Exec runs argv and returns its stdout.
func Exec(ctx context.Context, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, xerrors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Errorf("%s: %w", argv[0], ctx.Err())
		}
		var exitErr *exec.ExitError
		if xerrors.As(err, &exitErr) {
			return nil, &ExitError{
				Command:  argv,
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return nil, xerrors.Errorf("failed to run %s: %w", argv[0], err)
	}
	return stdout.Bytes(), nil
}
