package diag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"llmdoc/pkg/contract"
)

type netErr struct{}

func (netErr) Error() string   { return "net" }
func (netErr) Timeout() bool   { return true }
func (netErr) Temporary() bool { return true }

var _ net.Error = netErr{}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{errors.New("x"), CodeUnknown},
		{fmt.Errorf("w: %w", context.Canceled), CodeCancel},
		{context.DeadlineExceeded, CodeCancel},
		{fmt.Errorf("openai: %w", contract.ErrCredentialMissing), CodeCredential},
		{contract.ErrCostEstimationUnavailable, CodeEstimator},
		{contract.ErrRateLimited, CodeBudget},
		{contract.ErrChunkTooLarge, CodeBudget},
		{fmt.Errorf("%w: %w", contract.ErrRemoteCall, contract.ErrRateLimited), CodeBudget},
		{contract.ErrResponseInvalid, CodeProtocol},
		{contract.ErrInvalidInput, CodeInvariant},
		{contract.ErrPathInvalid, CodeInvariant},
		{&os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}, CodeIO},
		{contract.ErrUnitRead, CodeIO},
		{netErr{}, CodeNetwork},
		{fmt.Errorf("%w: boom", contract.ErrRemoteCall), CodeNetwork},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), "err=%v", c.err)
	}
}

func TestLoggerEvents(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLoggerWithCore("corr-1", core)

	tm := l.StartWith("dispatch", "chunk", "", "3")
	tm.Finish("ok", 2)
	l.Warn("pipeline", "skip unit", map[string]string{"file": "a.go"})
	l.ErrorWithKV("dispatch", string(CodeNetwork), "boom", tm.Since(), "", "3", map[string]string{"status": "500"})
	l.DebugStart("dispatch", "req", "", "3", nil)

	entries := logs.All()
	require.Len(t, entries, 5)
	ctx := entries[1].ContextMap()
	assert.Equal(t, "finish", ctx["stage"])
	assert.Equal(t, "corr-1", ctx["corr_id"])
	assert.Equal(t, "3", ctx["chunk"])
	assert.EqualValues(t, 2, ctx["count"])
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "network", entries[3].ContextMap()["code"])
	assert.Equal(t, zapcore.DebugLevel, entries[4].Level)
}

func TestLoggerLevelFilter(t *testing.T) {
	core, logs := observer.New(ParseLevel("warn"))
	l := NewLoggerWithCore("c", core)
	l.Start("x", "info dropped").Finish("dropped", 0)
	l.Error("x", "unknown", "kept", nil)
	require.Equal(t, 1, logs.Len())

	var nilLogger *Logger
	nilLogger.Warn("x", "noop", nil)
	require.NoError(t, nilLogger.Close())
	Nop().Start("x", "noop").Finish("noop", 0)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel(" DEBUG "))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("bogus"))
}

func TestRotatingFileWrites(t *testing.T) {
	dir := t.TempDir()
	sink := NewRotatingFile(dir, 0)
	assert.Equal(t, 10, sink.MaxSize)
	_, err := sink.Write([]byte("{\"msg\":\"hi\"}\n"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	b, err := os.ReadFile(filepath.Join(dir, currentLogName))
	require.NoError(t, err)
	assert.Contains(t, string(b), "hi")
}

func TestMetrics(t *testing.T) {
	before := testutil.ToFloat64(opTotal.WithLabelValues("test", "dispatch", "success"))
	IncOp("test", "dispatch", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(opTotal.WithLabelValues("test", "dispatch", "success")))

	IncError("test", string(CodeBudget))
	assert.GreaterOrEqual(t, testutil.ToFloat64(errorTotal.WithLabelValues("test", "budget")), 1.0)

	b0 := testutil.ToFloat64(budgetShrink.WithLabelValues("describe"))
	IncBudgetShrink("describe")
	assert.Equal(t, b0+1, testutil.ToFloat64(budgetShrink.WithLabelValues("describe")))

	ObserveDuration("test", "run", 42)
	p := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, WriteTextfile(p))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), "llmdoc_op_duration_ms")
	assert.Contains(t, string(b), "llmdoc_budget_shrink_total")
}

func TestTerminalNonTTYFlow(t *testing.T) {
	var buf bytes.Buffer
	tm := NewTerminal(&buf, true)
	tm.RunStart(8, "openai")
	tm.Info("collected %d files", 3)
	tm.PhaseStart("describe", 2)
	tm.PhaseProgress(1, 2, 0) // 非 TTY 不输出进度
	tm.PhaseFinish(true, 0, 1500*time.Millisecond)
	tm.RunFinish(true, 2*time.Second)

	out := buf.String()
	assert.Equal(t, []string{
		"[run] concurrency=8 | llm=openai",
		"collected 3 files",
		"[describe] chunks=2",
		"[done] describe | chunks 2 | failed 0 | 1.5s",
		"[ok] finished | 2.0s",
	}, strings.Split(strings.TrimSuffix(out, "\n"), "\n"))
}

func TestTerminalTTYProgress(t *testing.T) {
	var buf bytes.Buffer
	tm := NewTerminal(&buf, true)
	tm.isTTY = true
	tm.PhaseStart("refine", 4)
	tm.PhaseProgress(1, 4, 1)
	tm.PhaseProgress(2, 4, 1) // 节流丢弃
	tm.PhaseFinish(false, 1, 10*time.Millisecond)
	out := buf.String()
	assert.Contains(t, out, "\r[refine] 1/4 | errors 1")
	assert.NotContains(t, out, "2/4")
	assert.Contains(t, out, "[fail] refine | chunks 4 | failed 1 | 10ms")
}

type brokenWriter struct{ n int }

func (w *brokenWriter) Write(p []byte) (int, error) {
	w.n++
	return 0, errors.New("closed")
}

func TestTerminalDisableOnWriteErrorAndNil(t *testing.T) {
	w := &brokenWriter{}
	tm := NewTerminal(w, true)
	tm.RunStart(1, "x")
	tm.Info("again")
	assert.Equal(t, 1, w.n)

	var nilTerm *Terminal
	nilTerm.RunStart(1, "x")
	nilTerm.PhaseStart("x", 1)
	nilTerm.PhaseProgress(1, 1, 0)
	nilTerm.PhaseFinish(true, 0, 0)
	nilTerm.RunFinish(true, 0)
	nilTerm.Info("x")

	SetTerminal(tm)
	assert.Same(t, tm, GetTerminal())
	SetTerminal(nil)
	assert.Nil(t, GetTerminal())
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "a b", safe("a\nb"))
	assert.Equal(t, "0ms", formatDur(-time.Second))
	assert.NotEmpty(t, NowUTC())
	assert.Len(t, NewCorrID(), 36)
}
