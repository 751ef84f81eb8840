package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cfgpkg "llmdoc/internal/config"
	"llmdoc/internal/diag"
	"llmdoc/internal/pipeline"
)

var pipelineRun = pipeline.Run

// 退出码：0 成功；1 运行失败（含无输出）；3 配置/凭据/估算器错误（任何网络请求之前）。
const (
	exitOK     = 0
	exitRun    = 1
	exitConfig = 3
)

// exitError 携带退出码。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, format string, a ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, a...)}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run 执行 CLI 并返回退出码。
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(stderr, "%v\n", err)
		}
		return ee.code
	}
	// 旗标/参数解析错误
	fmt.Fprintf(stderr, "%v\n", err)
	return exitConfig
}

type flags struct {
	config      string
	llm         string
	concurrency int
	maxRetries  int
	output      string
	noRefine    bool
	status      bool
	metricsFile string
	logLevel    string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:   "llmdoc [roots...]",
		Short: "Generate codebase documentation with an LLM",
		Long: `llmdoc walks the given roots (default "."), asks an LLM to describe every
source file in token-budgeted batches, writes CODEBASE_DOCUMENTATION.md and then
refines the document in a second pass.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocs(cmd.Context(), f, args, stdout, stderr)
		},
	}
	fl := root.Flags()
	fl.StringVar(&f.config, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	fl.StringVar(&f.llm, "llm", "", "provider 名称（覆盖配置）")
	fl.IntVar(&f.concurrency, "concurrency", 0, "并发度（覆盖配置）")
	// max-retries 允许显式设置为 0；默认 -1 表示“未覆盖”。
	fl.IntVar(&f.maxRetries, "max-retries", -1, "单块远端调用最大重试次数（覆盖配置；0 表示不重试）")
	fl.StringVar(&f.output, "output", "", "文档输出文件名（覆盖配置）")
	fl.BoolVar(&f.noRefine, "no-refine", false, "跳过精炼阶段")
	fl.BoolVar(&f.status, "status", true, "终端状态提示（stdout）。TTY 动态刷新；非 TTY 打点输出")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "退出时以 Prometheus 文本格式写出指标")
	fl.StringVar(&f.logLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")

	root.AddCommand(newInitConfigCmd(stdout))
	return root
}

func newInitConfigCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "生成默认 config.json 与 .env 模板（已存在则跳过，不覆盖）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			return initConfig(dir, stdout)
		},
	}
}

func initConfig(dir string, stdout io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return withCode(exitConfig, "生成默认配置失败: %w", err)
	}
	cfgPath := filepath.Join(dir, "config.json")
	wrote, err := writeConfig(cfgPath, cfgpkg.DefaultTemplateConfig())
	if err != nil {
		return withCode(exitConfig, "生成默认配置失败: %w", err)
	}
	report(stdout, cfgPath, wrote)
	envPath := filepath.Join(dir, ".env")
	wrote, err = writeIfAbsent(envPath, []byte(cfgpkg.EnvTemplate))
	if err != nil {
		// .env 为可选模板
		fmt.Fprintf(stdout, "提示：.env 生成失败（已跳过）：%v\n", err)
		return nil
	}
	report(stdout, envPath, wrote)
	return nil
}

func report(w io.Writer, path string, wrote bool) {
	if wrote {
		fmt.Fprintf(w, "wrote %s\n", path)
		return
	}
	fmt.Fprintf(w, "skipped %s (exists)\n", path)
}

// loadConfig 按优先级合并：默认值 < JSON（文件或 LLMDOC_CONFIG_JSON） < ENV < CLI。
func loadConfig(f flags, roots []string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()

	var cfgJSON []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}
	path := f.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" || len(cfgJSON) > 0 {
		base, err := cfgpkg.LoadJSON(path, cfgJSON)
		if err != nil {
			return cfg, fmt.Errorf("配置解析失败: %w", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, fmt.Errorf("环境变量解析失败: %w", err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖；MaxRetries=-1 表示未设置
	over := cfgpkg.Config{MaxRetries: f.maxRetries, LLM: f.llm, Output: f.output}
	over.Logging.Level = f.logLevel
	if f.concurrency > 0 {
		over.Concurrency = f.concurrency
	}
	if f.noRefine {
		off := false
		over.Refine.Enabled = &off
	}
	if len(roots) > 0 {
		over.Inputs = roots
	}
	return cfgpkg.Merge(cfg, over), nil
}

func runDocs(ctx context.Context, f flags, roots []string, stdout, stderr io.Writer) error {
	start := time.Now()
	corrID := diag.NewCorrID()
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "提示：.env 读取失败（已跳过）：%v\n", err)
	}

	cfg, err := loadConfig(f, roots)
	if err != nil {
		return &exitError{code: exitConfig, err: err}
	}
	if err := cfgpkg.Validate(cfg); err != nil {
		// 打印有效配置，便于诊断
		_ = dumpConfig(stderr, cfg)
		return withCode(exitConfig, "配置校验失败: %w", err)
	}

	logger := diag.NewLogger(corrID, cfg.Logging.Level)
	defer logger.Close()
	if f.metricsFile != "" {
		defer func() {
			if err := diag.WriteTextfile(f.metricsFile); err != nil {
				fmt.Fprintf(stderr, "提示：指标写出失败：%v\n", err)
			}
		}()
	}
	fail := func(code int, err error) error {
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return &exitError{code: code, err: err}
	}

	if err := preflightCheckOutputDir(cfg); err != nil {
		return fail(exitConfig, fmt.Errorf("输出目录不可写或无法创建: %w", err))
	}
	comp, set, _, _, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return fail(exitConfig, fmt.Errorf("装配失败: %w", err))
	}

	// 终端信息提示（非日志）
	term := diag.NewTerminal(stdout, f.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(cfg.Concurrency, cfg.LLM)
	logger.DebugStart("config", "effective", "", "", effectiveKV(cfg))

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := logger.Start("pipeline", "run")
	if err := pipelineRun(ctx, comp, set, logger); err != nil {
		code := diag.Classify(err)
		diag.IncOp("pipeline", "run", "error")
		if code != diag.CodeUnknown {
			diag.IncError("pipeline", string(code))
		}
		term.RunFinish(false, time.Since(start))
		return fail(exitRun, fmt.Errorf("运行失败: %w", err))
	}
	t.Finish("run", 0)
	diag.IncOp("pipeline", "run", "success")
	diag.ObserveDuration("pipeline", "run", time.Since(start).Milliseconds())
	term.RunFinish(true, time.Since(start))
	return nil
}

// effectiveKV 输出运行时配置摘要（不含密钥）。
func effectiveKV(cfg cfgpkg.Config) map[string]string {
	kv := map[string]string{
		"inputs_count":    strconv.Itoa(len(cfg.Inputs)),
		"output":          cfg.Output,
		"concurrency":     strconv.Itoa(cfg.Concurrency),
		"max_retries":     strconv.Itoa(cfg.MaxRetries),
		"llm":             cfg.LLM,
		"describe_model":  cfg.Describe.Model,
		"refine_model":    cfg.Refine.Model,
		"estimator":       cfg.Components.Estimator,
		"packer":          cfg.Components.Packer,
		"describe_prompt": cfg.Components.DescribePrompt,
		"refine_prompt":   cfg.Components.RefinePrompt,
		"writer":          cfg.Components.Writer,
	}
	if p, ok := cfg.Provider[cfg.LLM]; ok {
		kv["provider_client"] = p.Client
		var s struct {
			BaseURL string `json:"base_url"`
			Model   string `json:"model"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.BaseURL != "" {
			kv["base_url"] = s.BaseURL
		}
		if s.Model != "" {
			kv["model"] = s.Model
		}
	}
	return kv
}

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "有效配置:\n%s\n", b)
	return err
}

// writeConfig 写出 JSON 配置；"-" 表示 stdout。已存在时不覆盖，返回 false。
func writeConfig(path string, c cfgpkg.Config) (bool, error) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return false, err
	}
	b = append(b, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(b)
		return err == nil, err
	}
	return writeIfAbsent(path, b)
}

func writeIfAbsent(path string, b []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return false, err
	}
	return true, nil
}

// preflightCheckOutputDir: 当 Writer 使用文件系统实现(fs)时，启动前检查输出目录可写性。
// - 目录已存在：尝试创建并删除临时文件；
// - 目录不存在：检查父目录可写（创建并删除临时目录）。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	writerName := strings.TrimSpace(cfg.Components.Writer)
	if writerName == "" {
		writerName = cfgpkg.Defaults().Components.Writer
	}
	if writerName != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		dir = "."
	}
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	case err == nil:
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	case !os.IsNotExist(err):
		return err
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return fmt.Errorf("无法确定父目录: %s", dir)
	}
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}
