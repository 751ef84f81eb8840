package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "llmdoc/internal/config"
	"llmdoc/internal/pipeline"
	"llmdoc/pkg/contract"
)

// fixture: 含排除样例（node_modules、*.min.js、README.md）的小型项目。
const fixture = "testdata/project"

// baseConfig: 字节估算器 + 文件系统读写，不触网。
func baseConfig(input, outDir string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Inputs = []string{input}
	cfg.Components.Estimator = "bytes"
	cfg.Options.Estimator = json.RawMessage(`{"bytes_per_token":4}`)
	cfg.Logging.Level = "error"
	cfg.MaxRetries = 0
	cfg.Provider = map[string]cfgpkg.Provider{}
	cfg.Options.Writer = json.RawMessage(fmt.Sprintf(`{"output_dir":%q,"atomic":true,"flat":false,"perm_file":0,"perm_dir":0,"buf_size":65536}`, outDir))
	return cfg
}

func runPipeline(t *testing.T, cfg cfgpkg.Config) error {
	t.Helper()
	comp, set, _, _, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return err
	}
	return pipeline.Run(context.Background(), comp, set, nil)
}

func readDoc(t *testing.T, outDir string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(outDir, cfgpkg.DefaultOutput))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	return string(b)
}

func TestE2ESuccess(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(fixture, outDir)
	cfg.LLM = "mock"
	cfg.Provider["mock"] = cfgpkg.Provider{
		Client:  "mock",
		Options: json.RawMessage(`{"prefix":"DEBUG"}`),
	}
	if err := runPipeline(t, cfg); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	doc := readDoc(t, outDir)
	if !strings.HasPrefix(doc, "# Codebase Overview\n\n## Directory Structure\n\n```\n├── project/\n") {
		t.Fatalf("header mismatch:\n%s", doc)
	}
	// 同层先文件后子目录、字典序
	want := []string{
		"### testdata/project/Makefile\n",
		"### testdata/project/cmd/app/main.go\nDEBUG: describes testdata/project/cmd/app/main.go\n",
		"### testdata/project/internal/store/store.go\n",
		"### testdata/project/web/api.ts\n",
	}
	last := -1
	for _, w := range want {
		i := strings.Index(doc, w)
		if i < 0 || i < last {
			t.Fatalf("missing or out of order %q in:\n%s", w, doc)
		}
		last = i
	}
	for _, excluded := range []string{"node_modules", "app.min.js", "README.md"} {
		if strings.Contains(doc, excluded) {
			t.Fatalf("excluded %q present:\n%s", excluded, doc)
		}
	}
}

func TestE2EChunkTooLarge(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "big.go"), []byte(strings.Repeat("// filler line\n", 400)), 0o644); err != nil {
		t.Fatal(err)
	}
	outDir := t.TempDir()
	cfg := baseConfig(src, outDir)
	cfg.Describe.ModelMaxTokens = 600
	cfg.Describe.MaxCompletionTokens = 100
	cfg.LLM = "mock"
	cfg.Provider["mock"] = cfgpkg.Provider{Client: "mock"}
	err := runPipeline(t, cfg)
	if !errors.Is(err, contract.ErrNoOutput) {
		t.Fatalf("expect no output, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, cfgpkg.DefaultOutput)); err == nil {
		t.Fatal("output file should not exist")
	}
}

func TestE2ERetry(t *testing.T) {
	outDir := t.TempDir()
	logPath := filepath.Join(outDir, "flaky.log")
	cfg := baseConfig(fixture, outDir)
	cfg.LLM = "flaky"
	cfg.MaxRetries = 2
	cfg.Provider["flaky"] = cfgpkg.Provider{
		Client:  "flaky",
		Options: json.RawMessage(fmt.Sprintf(`{"prefix":"FLAKY","fail_first":1,"log_path":%q}`, logPath)),
	}
	if err := runPipeline(t, cfg); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	// 描述一次失败后重试成功；精炼一次成功，覆盖首轮文档
	doc := readDoc(t, outDir)
	if !strings.HasPrefix(doc, "FLAKY #3 ") {
		t.Fatalf("unexpected document: %q", doc)
	}
	f, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if strings.Join(lines, ",") != "rate_limited,ok,ok" {
		t.Fatalf("unexpected log: %v", lines)
	}
}

func TestE2ENoRefine(t *testing.T) {
	outDir := t.TempDir()
	cfg := baseConfig(fixture, outDir)
	off := false
	cfg.Refine.Enabled = &off
	cfg.LLM = "flaky"
	cfg.Provider["flaky"] = cfgpkg.Provider{Client: "flaky", Options: json.RawMessage(`{"fail_first":0}`)}
	if err := runPipeline(t, cfg); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	doc := readDoc(t, outDir)
	if !strings.Contains(doc, "```\n\nFLAKY #1 (") || !strings.HasSuffix(doc, " bytes)\n") {
		t.Fatalf("first-pass document expected:\n%s", doc)
	}
}
