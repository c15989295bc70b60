package diag

import (
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 组件名（日志 comp 字段、指标标签）。
const (
	CompCLI       = "cli"
	CompConfig    = "config"
	CompBackend   = "backend"
	CompReader    = "reader"
	CompSplitter  = "splitter"
	CompEvaluator = "evaluate"
	CompWriter    = "writer"
	CompPipeline  = "pipeline"
)

// Logger: 单行 JSON 结构化日志（zap）。所有方法对 nil 接收者安全。
type Logger struct {
	corrID string
	z      *zap.Logger
	sink   *RotatingFile
}

// NewLogger 以 level 初始化；dir 为空写 STDERR，否则写 dir 下的轮转文件（10MiB）。
func NewLogger(corrID, level, dir string) *Logger {
	var ws zapcore.WriteSyncer
	var sink *RotatingFile
	if strings.TrimSpace(dir) == "" {
		ws = zapcore.Lock(zapcore.AddSync(os.Stderr))
	} else {
		sink = NewRotatingFile(dir, 10*1024*1024)
		ws = sink
	}
	l := newLogger(corrID, level, ws)
	l.sink = sink
	return l
}

// NewLoggerTo 写到任意 io.Writer（测试与嵌入场景）。
func NewLoggerTo(corrID, level string, w io.Writer) *Logger {
	return newLogger(corrID, level, zapcore.AddSync(w))
}

// Nop 返回丢弃一切的日志器。
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

func newLogger(corrID, level string, ws zapcore.WriteSyncer) *Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.LevelKey = "level"
	enc.MessageKey = "msg"
	enc.CallerKey = ""
	enc.StacktraceKey = ""
	enc.EncodeTime = zapcore.RFC3339TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), ws, ParseLevel(level))
	z := zap.New(core).With(zap.String("corr_id", corrID))
	return &Logger{corrID: corrID, z: z}
}

// ParseLevel 解析 debug|info|warn|error；未知值取 warn。
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

// CorrID 返回本次运行的关联 ID。
func (l *Logger) CorrID() string {
	if l == nil {
		return ""
	}
	return l.corrID
}

// Sync 刷新并关闭文件 sink。
func (l *Logger) Sync() error {
	if l == nil || l.z == nil {
		return nil
	}
	err := l.z.Sync()
	if l.sink != nil {
		if cerr := l.sink.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// kv 以确定顺序编码键值。
type kv map[string]string

func (m kv) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		enc.AddString(k, m[k])
	}
	return nil
}

func (l *Logger) log(lv zapcore.Level, msg string, fields ...zap.Field) {
	if l == nil || l.z == nil {
		return
	}
	if ce := l.z.Check(lv, msg); ce != nil {
		ce.Write(fields...)
	}
}

func event(comp, stage string, extra ...zap.Field) []zap.Field {
	return append([]zap.Field{zap.String("comp", comp), zap.String("stage", stage)}, extra...)
}

func withKV(fields []zap.Field, m map[string]string) []zap.Field {
	if len(m) == 0 {
		return fields
	}
	return append(fields, zap.Object("kv", kv(m)))
}

func durField(since *time.Time) zap.Field {
	if since == nil {
		return zap.Skip()
	}
	return zap.Int64("dur_ms", time.Since(*since).Milliseconds())
}

func fileField(fileID string) zap.Field {
	if fileID == "" {
		return zap.Skip()
	}
	return zap.String("file_id", fileID)
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(zapcore.InfoLevel, msg, event(comp, "start")...)
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id 的 start。
func (l *Logger) StartWith(comp, msg, fileID string) *Timer {
	l.log(zapcore.InfoLevel, msg, event(comp, "start", fileField(fileID))...)
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// StartWithKV 记录带 file_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID string, m map[string]string) *Timer {
	l.log(zapcore.InfoLevel, msg, withKV(event(comp, "start", fileField(fileID)), m)...)
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.log(zapcore.ErrorLevel, msg, event(comp, "error", zap.String("code", code), durField(durSince))...)
}

// ErrorWith 支持 file_id。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, fileID string) {
	l.log(zapcore.ErrorLevel, msg, event(comp, "error", zap.String("code", code), durField(durSince), fileField(fileID))...)
}

// ErrorWithKV 支持附带键值对。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID string, m map[string]string) {
	l.log(zapcore.ErrorLevel, msg, withKV(event(comp, "error", zap.String("code", code), durField(durSince), fileField(fileID)), m)...)
}

// TokenFailure 记录单个 token 的可恢复失败（warn）。
func (l *Logger) TokenFailure(comp, code, msg, fileID string, index int64, m map[string]string) {
	l.log(zapcore.WarnLevel, msg, withKV(event(comp, "error", zap.String("code", code), fileField(fileID), zap.Int64("token", index)), m)...)
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(zapcore.InfoLevel, msg, event(comp, "finish", zap.Int64("dur_ms", time.Since(start).Milliseconds()), zap.Int64("count", count))...)
}

// DebugStart 输出调试级别的 start 事件。
func (l *Logger) DebugStart(comp, msg, fileID string, m map[string]string) {
	l.log(zapcore.DebugLevel, msg, withKV(event(comp, "start", fileField(fileID)), m)...)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	t0     time.Time
}

// Finish 记录 finish；可选 count。同时记录耗时指标。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	d := time.Since(t.t0)
	ObserveDuration(t.comp, "finish", d)
	t.l.log(zapcore.InfoLevel, msg, event(t.comp, "finish", zap.Int64("dur_ms", d.Milliseconds()), zap.Int64("count", count), fileField(t.fileID))...)
}
