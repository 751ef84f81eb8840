package diag

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 为结构化事件日志器：单行 JSON 写入轮转文件。
// 事件模型：comp + stage(start|finish|warn|error) + 可选 code/dur_ms/count/file_id/chunk/kv。
type Logger struct {
	z      *zap.Logger
	closer func() error
}

// NewCorrID 生成单次运行的关联 ID。
func NewCorrID() string { return uuid.NewString() }

// NewLogger 按配置的 level 初始化，日志写入 logs/llmdoc-current.log，10 MiB 轮转。
func NewLogger(corrID, level string) *Logger {
	sink := NewRotatingFile("logs", 10)
	enc := zapcore.NewJSONEncoder(encoderConfig())
	core := zapcore.NewCore(enc, rotatingSyncer(sink), ParseLevel(level))
	l := NewLoggerWithCore(corrID, core)
	l.closer = sink.Close
	return l
}

// NewLoggerWithCore 使用外部 core 构造（测试可传入 zaptest/observer）。
func NewLoggerWithCore(corrID string, core zapcore.Core) *Logger {
	return &Logger{z: zap.New(core).With(zap.String("corr_id", corrID))}
}

// Nop 返回丢弃所有事件的日志器。
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.MessageKey = "msg"
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.CallerKey = ""
	cfg.StacktraceKey = ""
	return cfg
}

// ParseLevel 解析 debug|info|warn|error；未知值视为 info。
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close 刷新并关闭底层 sink。
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	_ = l.z.Sync()
	if l.closer != nil {
		return l.closer()
	}
	return nil
}

func (l *Logger) log(lv zapcore.Level, comp, stage, msg string, fields ...zap.Field) {
	if l == nil || l.z == nil {
		return
	}
	if ce := l.z.Check(lv, msg); ce != nil {
		base := []zap.Field{zap.String("comp", comp), zap.String("stage", stage)}
		ce.Write(append(base, fields...)...)
	}
}

func scope(fileID, chunk string, kv map[string]string) []zap.Field {
	var fs []zap.Field
	if fileID != "" {
		fs = append(fs, zap.String("file_id", fileID))
	}
	if chunk != "" {
		fs = append(fs, zap.String("chunk", chunk))
	}
	if len(kv) > 0 {
		fs = append(fs, zap.Any("kv", kv))
	}
	return fs
}

func since(t *time.Time) []zap.Field {
	if t == nil {
		return nil
	}
	return []zap.Field{zap.Int64("dur_ms", time.Since(*t).Milliseconds())}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(zapcore.InfoLevel, comp, "start", msg)
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id/chunk 的 start。
func (l *Logger) StartWith(comp, msg, fileID, chunk string) *Timer {
	l.log(zapcore.InfoLevel, comp, "start", msg, scope(fileID, chunk, nil)...)
	return &Timer{l: l, comp: comp, fileID: fileID, chunk: chunk, t0: time.Now()}
}

// StartWithKV 记录带 file_id/chunk 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID, chunk string, kv map[string]string) *Timer {
	l.log(zapcore.InfoLevel, comp, "start", msg, scope(fileID, chunk, kv)...)
	return &Timer{l: l, comp: comp, fileID: fileID, chunk: chunk, t0: time.Now()}
}

// Warn 记录可恢复的异常（例如跳过的输入、预算收缩）。
func (l *Logger) Warn(comp, msg string, kv map[string]string) {
	l.log(zapcore.WarnLevel, comp, "warn", msg, scope("", "", kv)...)
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.log(zapcore.ErrorLevel, comp, "error", msg, append(since(durSince), zap.String("code", code))...)
}

// ErrorWith 支持 file_id/chunk。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID, chunk string) {
	fs := append(since(durSince), zap.String("code", code))
	l.log(zapcore.ErrorLevel, comp, "error", msg, append(fs, scope(fileID, chunk, nil)...)...)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID, chunk string, kv map[string]string) {
	fs := append(since(durSince), zap.String("code", code))
	l.log(zapcore.ErrorLevel, comp, "error", msg, append(fs, scope(fileID, chunk, kv)...)...)
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(zapcore.InfoLevel, comp, "finish", msg, zap.Int64("dur_ms", time.Since(start).Milliseconds()), zap.Int64("count", count))
}

// DebugStart 输出调试级别的 start 事件（仅 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID, chunk string, kv map[string]string) {
	l.log(zapcore.DebugLevel, comp, "start", msg, scope(fileID, chunk, kv)...)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	chunk  string
	t0     time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	fs := []zap.Field{zap.Int64("dur_ms", time.Since(t.t0).Milliseconds()), zap.Int64("count", count)}
	t.l.log(zapcore.InfoLevel, t.comp, "finish", msg, append(fs, scope(t.fileID, t.chunk, nil)...)...)
}

// Since 返回计时起点（供 Error* 计算耗时）。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}
