package diag

import (
	"path/filepath"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// currentLogName: 当前日志文件名；轮转后的历史文件由 lumberjack 追加时间戳。
const currentLogName = "llmdoc-current.log"

// NewRotatingFile 返回写入 dir/llmdoc-current.log 的轮转 sink。
// maxMB<=0 时默认 10 MiB；保留最近 5 个历史文件。
func NewRotatingFile(dir string, maxMB int) *lumberjack.Logger {
	if maxMB <= 0 {
		maxMB = 10
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(dir, currentLogName),
		MaxSize:    maxMB,
		MaxBackups: 5,
	}
}

// rotatingSyncer 将 lumberjack 适配为 zapcore.WriteSyncer。
func rotatingSyncer(l *lumberjack.Logger) zapcore.WriteSyncer {
	return zapcore.AddSync(l)
}
