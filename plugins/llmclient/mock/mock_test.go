package mock

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"llmdoc/pkg/contract"
)

func TestSummaryDescribesEachFile(t *testing.T) {
	c, err := New(json.RawMessage(`{"prefix":"X"}`))
	require.NoError(t, err)
	p := "Describe.\n\n**File Path:** a.go\n```go\npackage a\n```\n\n**File Path:** b/c.py\n```py\npass\n```\n\n"
	raw, err := c.Complete(context.Background(), contract.Request{Prompt: p, MaxOutputTokens: 10})
	require.NoError(t, err)
	require.Equal(t, "### a.go\nX: describes a.go\n\n### b/c.py\nX: describes b/c.py\n\n", raw.Text)
}

func TestSummaryRefineStripsInstruction(t *testing.T) {
	c, _ := New(nil)
	raw, err := c.Complete(context.Background(), contract.Request{Prompt: "Improve.\n\n# Doc\nbody\n", MaxOutputTokens: 10})
	require.NoError(t, err)
	require.Equal(t, "# Doc\nbody\n", raw.Text)
}

func TestEcho(t *testing.T) {
	c, _ := New(json.RawMessage(`{"response_mode":"echo"}`))
	raw, err := c.Complete(context.Background(), contract.Request{Prompt: "abc", MaxOutputTokens: 1})
	require.NoError(t, err)
	require.Equal(t, "abc", raw.Text)
}

func TestUnknownMode(t *testing.T) {
	_, err := New(json.RawMessage(`{"response_mode":"nope"}`))
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestDelayHonorsCancel(t *testing.T) {
	c, _ := New(json.RawMessage(`{"delay_millis":5000}`))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, contract.Request{Prompt: "x", MaxOutputTokens: 1})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
