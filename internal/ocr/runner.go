package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
)

// DefaultMaxOutput bounds what one extraction command may print.
const DefaultMaxOutput = 16 << 20

// ErrOutputTooLarge is returned, marked terminal, when a command's stdout
// passes the configured limit.
var ErrOutputTooLarge = errors.New("extractor output too large")

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger    *slog.Logger
	maxOutput int
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	limit := r.maxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	out := &cappedBuffer{max: limit}
	errb := &cappedBuffer{max: 8 << 10}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = out
	cmd.Stderr = errb

	start := time.Now()
	err := cmd.Run()
	if err == nil && out.overflow {
		err = common.Terminal(fmt.Errorf("%s: %w (limit %d bytes)", name, ErrOutputTooLarge, limit))
	}

	attrs := []any{
		"job_id", common.JobIDFromContext(ctx),
		"cmd", name,
		"args", strings.Join(args, " "),
		"duration_ms", time.Since(start).Milliseconds(),
		"stdout_bytes", out.buf.Len(),
	}
	if err != nil {
		r.logger.Error("ocr.exec.failed", append(attrs,
			"error", err,
			"stdout_truncated", out.overflow,
			"stderr", errb.String(),
		)...)
	} else {
		r.logger.Debug("ocr.exec.ok", append(attrs, "stderr_bytes", errb.buf.Len())...)
	}
	return out.buf.Bytes(), errb.buf.Bytes(), err
}

// cappedBuffer keeps the first max bytes written and drops the rest. It never
// fails a write, so the child is not killed by a broken pipe mid-page.
type cappedBuffer struct {
	buf      bytes.Buffer
	max      int
	overflow bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.max - c.buf.Len(); room < len(p) {
		c.overflow = true
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) String() string {
	if c.overflow {
		return c.buf.String() + "...(truncated)"
	}
	return c.buf.String()
}
