package diff

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/mprihoda/geosync/internal/logging"
)

// ExecEngine runs the geodiff command-line tool.
type ExecEngine struct {
	bin    string
	logger logging.Logger
}

// NewExecEngine returns an Engine backed by the geodiff binary at bin
// ("geodiff" resolved via PATH when empty).
func NewExecEngine(bin string, logger logging.Logger) *ExecEngine {
	if bin == "" {
		bin = "geodiff"
	}
	return &ExecEngine{bin: bin, logger: logger.With("module", "geodiff")}
}

func (e *ExecEngine) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, e.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		diag := stderr.String()
		e.logger.Error(ctx, "geodiff failed", "args", args, "stderr", diag)
		return fmt.Errorf("%w: geodiff %s: %s: %v", ErrApplyFailed, args[0], diag, err)
	}
	return nil
}

func (e *ExecEngine) Create(ctx context.Context, base, modified, output string) error {
	return e.run(ctx, "diff", base, modified, output)
}

func (e *ExecEngine) Apply(ctx context.Context, base, changeset string) error {
	return e.run(ctx, "apply", base, changeset)
}

func (e *ExecEngine) Invert(ctx context.Context, changeset, output string) error {
	return e.run(ctx, "invert", changeset, output)
}

func (e *ExecEngine) Concat(ctx context.Context, output string, changesets ...string) error {
	args := append([]string{"concat", output}, changesets...)
	return e.run(ctx, args...)
}
