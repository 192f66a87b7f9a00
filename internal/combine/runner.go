package combine

import (
	"context"
	"os/exec"
)

// Runner executes the external transcoder. Split out so tests can combine
// without a real ffmpeg on PATH.
type Runner interface {
	Run(ctx context.Context, binary string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, binary string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	return cmd.CombinedOutput()
}
