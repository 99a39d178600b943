package log

// Logging for the sweeper
// Console output goes to stderr and follows the -q / -v flags
// An optional file log keeps everything at DEBUG level under the configured log dir

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Logger is the combined logger (console + file). Nop until Setup is called.
var Logger = zap.NewNop()

var (
	mu         sync.Mutex
	fileWriter *rotatingLogWriter
)

// Options controls where and how much is logged
type Options struct {
	Quiet     bool
	Verbosity int
	LogDir    string // empty disables the file log
}

// ConsoleLevel maps the -v count to a zap level: 0 error, 1 warn, 2 info, 3+ debug
func ConsoleLevel(verbosity int) zapcore.Level {
	switch {
	case verbosity <= 0:
		return zapcore.ErrorLevel
	case verbosity == 1:
		return zapcore.WarnLevel
	case verbosity == 2:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Setup builds the global logger. Safe to call more than once; the previous file is closed.
func Setup(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	var cores []zapcore.Core

	if !opts.Quiet {
		consoleConfig := zap.NewDevelopmentEncoderConfig()
		consoleConfig.EncodeLevel = customLevelEncoder
		consoleConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		consoleConfig.EncodeCaller = nil
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleConfig),
			zapcore.Lock(os.Stderr),
			ConsoleLevel(opts.Verbosity),
		))
	}

	if fileWriter != nil {
		fileWriter.Close()
		fileWriter = nil
	}

	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
			return fmt.Errorf("failed to create logs directory: %w", err)
		}
		w, err := openLogFile(filepath.Join(opts.LogDir, "sweeper.log"))
		if err != nil {
			return err
		}
		fileWriter = w

		fileConfig := zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
			EncodeDuration: zapcore.SecondsDurationEncoder,
		}
		cores = append(cores, zapcore.NewCore(
			&customFileEncoder{Encoder: zapcore.NewConsoleEncoder(fileConfig)},
			zapcore.AddSync(w),
			zapcore.DebugLevel,
		))
	}

	if len(cores) == 0 {
		Logger = zap.NewNop()
		return nil
	}
	Logger = zap.New(zapcore.NewTee(cores...))
	return nil
}

// Sync flushes buffered entries
func Sync() {
	_ = Logger.Sync()
}

// RedactKey keeps the first and last 4 characters of a private key
func RedactKey(key string) string {
	if len(key) <= 10 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// Key is a zap field carrying a redacted private key
func Key(key string) zap.Field {
	return zap.String("key", RedactKey(key))
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"
)

func customLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.DebugLevel:
		enc.AppendString(colorCyan + "DEBUG" + colorReset)
	case zapcore.InfoLevel:
		enc.AppendString(colorGreen + "INFO" + colorReset)
	case zapcore.WarnLevel:
		enc.AppendString(colorYellow + "WARN" + colorReset)
	case zapcore.ErrorLevel, zapcore.FatalLevel, zapcore.PanicLevel:
		enc.AppendString(colorRed + level.CapitalString() + colorReset)
	default:
		enc.AppendString(colorWhite + level.String() + colorReset)
	}
}

func LogInfo(message string, fields ...zap.Field) {
	Logger.Info(message, fields...)
}

// LogSuccess marks an operation that changed something (a sweep, a bootstrap step)
func LogSuccess(message string, fields ...zap.Field) {
	Logger.Info("✓ "+message, fields...)
}

func LogError(message string, fields ...zap.Field) {
	Logger.Error("✗ "+message, fields...)
}

func LogWarn(message string, fields ...zap.Field) {
	Logger.Warn(message, fields...)
}

func LogDebug(message string, fields ...zap.Field) {
	Logger.Debug(message, fields...)
}

const (
	// MaxLogFileSize - file is truncated once it grows past 50MB
	MaxLogFileSize = 50 * 1024 * 1024
)

type rotatingLogWriter struct {
	file *os.File
	path string
	mu   sync.Mutex
}

func (w *rotatingLogWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := w.file.Stat()
	if err == nil && info.Size() > MaxLogFileSize {
		w.file.Close()

		w.file, err = os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return 0, fmt.Errorf("failed to truncate log file: %w", err)
		}
	}

	return w.file.Write(p)
}

func (w *rotatingLogWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

func (w *rotatingLogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func openLogFile(path string) (*rotatingLogWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return &rotatingLogWriter{file: file, path: path}, nil
}

// customFileEncoder writes "time     LEVEL msg\t{json fields}"
type customFileEncoder struct {
	zapcore.Encoder
}

func (e *customFileEncoder) Clone() zapcore.Encoder {
	return &customFileEncoder{
		Encoder: e.Encoder.Clone(),
	}
}

func (e *customFileEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf := buffer.NewPool().Get()

	buf.AppendString(entry.Time.Format("2006-01-02 15:04:05"))
	buf.AppendString("     ")
	buf.AppendString(entry.Level.CapitalString())
	buf.AppendString(" ")
	buf.AppendString(entry.Message)

	if len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, field := range fields {
			field.AddTo(enc)
		}
		if jsonData, err := json.Marshal(enc.Fields); err == nil {
			buf.AppendString("\t")
			buf.AppendString(string(jsonData))
		}
	}

	buf.AppendString("\n")
	return buf, nil
}
