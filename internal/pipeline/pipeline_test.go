package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"llmdoc/internal/diag"
	"llmdoc/pkg/contract"
	"llmdoc/plugins/assembler/concat"
	bytesest "llmdoc/plugins/estimator/bytes"
	"llmdoc/plugins/llmclient/flaky"
	"llmdoc/plugins/llmclient/mock"
	"llmdoc/plugins/packer/greedy"
	"llmdoc/plugins/prompt/describe"
	"llmdoc/plugins/prompt/refine"
	readerfs "llmdoc/plugins/reader/filesystem"
	"llmdoc/plugins/splitter/lines"
	writerfs "llmdoc/plugins/writer/filesystem"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

const outName = "CODEBASE_DOCUMENTATION.md"

type env struct {
	in, out afero.Fs
	comp    Components
	set     Settings
}

func newEnv(t *testing.T, llm contract.LLMClient, files map[string]string) *env {
	t.Helper()
	in := afero.NewMemMapFs()
	for p, c := range files {
		require.NoError(t, in.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, afero.WriteFile(in, p, []byte(c), 0o644))
	}
	out := afero.NewMemMapFs()
	w, err := writerfs.NewWithFs(out, &writerfs.Options{OutputDir: "/out"})
	require.NoError(t, err)
	dpb, err := describe.New(nil)
	require.NoError(t, err)
	rpb, err := refine.New(nil)
	require.NoError(t, err)
	asm, err := concat.New(nil)
	require.NoError(t, err)
	budget := contract.Budget{ModelLimit: 128000, Completion: 60000}
	return &env{
		in:  in,
		out: out,
		comp: Components{
			Reader:    readerfs.NewWithFs(in, nil),
			Estimator: bytesest.New(&bytesest.Options{BytesPerToken: 1}),
			Packer:    greedy.New(nil),
			Lines:     lines.New(nil),
			Describe:  dpb,
			Refine:    rpb,
			LLM:       llm,
			Assembler: asm,
			Writer:    w,
		},
		set: Settings{
			Inputs:        []string{"/src"},
			Output:        outName,
			Concurrency:   4,
			SafetyMargin:  -1,
			Describe:      PhaseSettings{Model: "o1-mini", Budget: budget},
			Refine:        PhaseSettings{Model: "o1-preview", Budget: contract.Budget{ModelLimit: 128000, Completion: 32000}},
			RefineEnabled: true,
		},
	}
}

func (e *env) doc(t *testing.T) string {
	t.Helper()
	b, err := afero.ReadFile(e.out, filepath.Join("/out", outName))
	require.NoError(t, err)
	return string(b)
}

func newMock(t *testing.T) contract.LLMClient {
	t.Helper()
	c, err := mock.New(nil)
	require.NoError(t, err)
	return c
}

var sample = map[string]string{
	"/src/main.go":     "package main\n",
	"/src/b/util.py":   "def f():\n    pass\n",
	"/src/a/x.go":      "package a\n",
	"/src/logo.png":    "binary",
	"/src/bad/bin.txt": "\xff\xfe",
}

func TestRunEndToEnd(t *testing.T) {
	e := newEnv(t, newMock(t), sample)
	require.NoError(t, Run(context.Background(), e.comp, e.set, diag.Nop()))

	doc := e.doc(t)
	require.True(t, strings.HasPrefix(doc, "# Codebase Overview\n\n## Directory Structure\n\n```\n"))
	ia := strings.Index(doc, "### /src/a/x.go")
	ib := strings.Index(doc, "### /src/b/util.py")
	im := strings.Index(doc, "### /src/main.go")
	require.True(t, im > 0 && im < ia && ia < ib, doc)
	require.NotContains(t, doc, "### /src/logo.png")
	require.NotContains(t, doc, "### /src/bad/bin.txt")
}

func TestRunWithoutRefine(t *testing.T) {
	llm := &recLLM{fn: func(ctx context.Context, req contract.Request) (contract.Raw, error) {
		return contract.Raw{Text: "DESC\n"}, nil
	}}
	e := newEnv(t, llm, sample)
	e.set.RefineEnabled = false
	require.NoError(t, Run(context.Background(), e.comp, e.set, diag.Nop()))
	require.Equal(t, 1, llm.calls())
	require.True(t, strings.HasSuffix(e.doc(t), "```\n\nDESC\n"))
}

func TestRunAllDescribeFailuresWriteNothing(t *testing.T) {
	c, err := flaky.New([]byte(`{"fail_all":true}`))
	require.NoError(t, err)
	e := newEnv(t, c, sample)
	err = Run(context.Background(), e.comp, e.set, diag.Nop())
	require.ErrorIs(t, err, contract.ErrNoOutput)
	ok, _ := afero.Exists(e.out, filepath.Join("/out", outName))
	require.False(t, ok)
	// 描述阶段只有一块；精炼阶段未被触发
	require.Equal(t, 1, c.(*flaky.Client).Calls())
}

func TestRunNoInputFiles(t *testing.T) {
	e := newEnv(t, newMock(t), map[string]string{"/src/logo.png": "x"})
	err := Run(context.Background(), e.comp, e.set, diag.Nop())
	require.ErrorIs(t, err, contract.ErrNoOutput)
}

func TestRunRefineFailureKeepsFirstPass(t *testing.T) {
	llm := &recLLM{fn: func(ctx context.Context, req contract.Request) (contract.Raw, error) {
		if strings.Contains(req.Prompt, "**File Path:**") {
			return contract.Raw{Text: "FIRST PASS\n"}, nil
		}
		return contract.Raw{}, contract.ErrInvalidInput
	}}
	e := newEnv(t, llm, sample)
	require.NoError(t, Run(context.Background(), e.comp, e.set, diag.Nop()))
	require.Equal(t, 2, llm.calls())
	require.Contains(t, e.doc(t), "FIRST PASS\n")
}

func TestRunRefineOverwrites(t *testing.T) {
	llm := &recLLM{fn: func(ctx context.Context, req contract.Request) (contract.Raw, error) {
		if strings.Contains(req.Prompt, "**File Path:**") {
			return contract.Raw{Text: "FIRST PASS\n"}, nil
		}
		return contract.Raw{Text: "REFINED\n"}, nil
	}}
	e := newEnv(t, llm, sample)
	require.NoError(t, Run(context.Background(), e.comp, e.set, diag.Nop()))
	require.Equal(t, "REFINED\n", e.doc(t))
	require.Len(t, llm.reqs, 2)
	require.Equal(t, "o1-mini", llm.reqs[0].Model)
	require.Equal(t, 60000, llm.reqs[0].MaxOutputTokens)
	require.Equal(t, "o1-preview", llm.reqs[1].Model)
	require.Equal(t, 32000, llm.reqs[1].MaxOutputTokens)
}

func TestRefineShortInputSingleChunk(t *testing.T) {
	llm := &recLLM{fn: func(ctx context.Context, req contract.Request) (contract.Raw, error) {
		return contract.Raw{Text: "R"}, nil
	}}
	e := newEnv(t, llm, nil)
	r, err := New(e.comp, e.set, diag.Nop())
	require.NoError(t, err)
	text := strings.Repeat("line\n", 50)
	out, err := r.Refine(context.Background(), text)
	require.NoError(t, err)
	require.Equal(t, "R", out)
	require.Equal(t, 1, llm.calls())
	require.True(t, strings.HasSuffix(llm.reqs[0].Prompt, text))
}

func TestRefineLongInputSplitsByLines(t *testing.T) {
	e := newEnv(t, nil, nil)
	header := e.comp.Refine.Header()
	llm := &recLLM{fn: func(ctx context.Context, req contract.Request) (contract.Raw, error) {
		return contract.Raw{Text: strings.TrimPrefix(req.Prompt, header)}, nil
	}}
	e.comp.LLM = llm
	overhead := len(header)
	// 每块最多容纳 150 字节正文
	e.set.Refine.Budget = contract.Budget{ModelLimit: overhead + 150 + 100, Completion: 100}
	e.set.Concurrency = 3

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, "line %02d %s\n", i, strings.Repeat("-", 20))
	}
	text := sb.String()
	r, err := New(e.comp, e.set, diag.Nop())
	require.NoError(t, err)
	out, err := r.Refine(context.Background(), text)
	require.NoError(t, err)
	// 块间以换行分隔
	require.Equal(t, text, strings.ReplaceAll(out, "\n\n", "\n"))
	require.Greater(t, llm.calls(), 1)
	for _, req := range llm.reqs {
		require.LessOrEqual(t, len(req.Prompt), overhead+150)
	}
}

func TestRefineEmptyInput(t *testing.T) {
	llm := &recLLM{}
	e := newEnv(t, llm, nil)
	r, err := New(e.comp, e.set, diag.Nop())
	require.NoError(t, err)
	_, err = r.Refine(context.Background(), "")
	require.ErrorIs(t, err, contract.ErrNoOutput)
	require.Zero(t, llm.calls())
}

func TestNewRejectsBadSettings(t *testing.T) {
	e := newEnv(t, newMock(t), nil)
	bad := e.set
	bad.Describe.Budget = contract.Budget{ModelLimit: 100, Completion: 100}
	_, err := New(e.comp, bad, nil)
	require.ErrorIs(t, err, contract.ErrInvalidInput)

	comp := e.comp
	comp.Writer = nil
	_, err = New(comp, e.set, nil)
	require.Error(t, err)
}

func TestRunCanceled(t *testing.T) {
	e := newEnv(t, newMock(t), sample)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, e.comp, e.set, diag.Nop())
	require.ErrorIs(t, err, context.Canceled)
}
