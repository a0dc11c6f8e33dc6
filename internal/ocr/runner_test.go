package ocr

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZoroCRE/cv-analyzer/internal/common"
)

func needShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner_CapsStdout(t *testing.T) {
	needShell(t)
	r := execRunner{logger: quietLogger(), maxOutput: 16}

	out, _, err := r.Run(context.Background(), "sh", "-c", "printf '%s' "+strings.Repeat("a", 40))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutputTooLarge)
	assert.True(t, common.IsTerminal(err))
	assert.Len(t, out, 16)
}

func TestExecRunner_LogsJobID(t *testing.T) {
	needShell(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := execRunner{logger: logger}
	ctx := common.WithJobID(context.Background(), "job-42")

	out, _, err := r.Run(ctx, "sh", "-c", "echo hi")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(out))
	assert.Contains(t, logs.String(), `"msg":"ocr.exec.ok"`)
	assert.Contains(t, logs.String(), `"job_id":"job-42"`)

	logs.Reset()
	_, errb, err := r.Run(ctx, "sh", "-c", "echo oops >&2; exit 3")
	require.Error(t, err)
	assert.False(t, common.IsTerminal(err))
	assert.Equal(t, "oops\n", string(errb))
	assert.Contains(t, logs.String(), `"msg":"ocr.exec.failed"`)
	assert.Contains(t, logs.String(), `"job_id":"job-42"`)
}

func TestCappedBuffer(t *testing.T) {
	c := &cappedBuffer{max: 5}
	n, err := c.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, c.overflow)

	n, err = c.Write([]byte("defg"))
	require.NoError(t, err)
	assert.Equal(t, 4, n, "whole write acknowledged")
	assert.True(t, c.overflow)
	assert.Equal(t, "abcde", c.buf.String())
	assert.Equal(t, "abcde...(truncated)", c.String())

	_, _ = c.Write([]byte("h"))
	assert.Equal(t, "abcde", c.buf.String())
}
