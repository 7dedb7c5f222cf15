package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	rotate "github.com/Psiphon-Inc/rotate-safe-writer"
	"github.com/sirupsen/logrus"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
	// LevelNone silences every entry, tagged events included.
	LevelNone
)

// Tag marks an operational event line. Tagged events are emitted at any
// level except LevelNone.
type Tag string

const (
	TagSend    Tag = "[>]"
	TagRecv    Tag = "[<]"
	TagCreate  Tag = "[+]"
	TagDestroy Tag = "[-]"
	TagAuth    Tag = "[@]"
)

const timestampFormat = "2006-01-02 15:04:05"

// Config selects the sink. Output is "stdout", "stderr" or a file path.
type Config struct {
	Level  string
	Format string
	Output string
}

var (
	currentLevel atomic.Int32
	sink         atomic.Pointer[logrus.Logger]

	// sinkMu is held shared while a line is written and exclusively while the
	// sink is replaced, so a file output is never closed under a writer.
	sinkMu sync.RWMutex
	closer io.Closer
)

func init() {
	currentLevel.Store(int32(LevelInfo))
	sink.Store(newSink(os.Stdout, "text"))
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	case LevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a Level. Unknown names map to LevelInfo.
func ParseLevel(level string) Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	case "NONE":
		return LevelNone
	default:
		return LevelInfo
	}
}

func SetLevel(level string) {
	currentLevel.Store(int32(ParseLevel(level)))
}

func GetLevel() Level {
	return Level(currentLevel.Load())
}

// Configure installs level, format and output. A file output is opened
// through a rotatable writer so external log rotation can move the file.
//
// Configure is meant for startup. It may run while other goroutines log: the
// previous file output is closed only after in-flight lines are written.
func Configure(cfg Config) error {
	var out io.Writer
	var c io.Closer

	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		if dir := filepath.Dir(cfg.Output); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory %s: %w", dir, err)
			}
		}
		w, err := rotate.NewRotatableFileWriter(cfg.Output, 3, true, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		out, c = w, w
	}

	sinkMu.Lock()
	defer sinkMu.Unlock()

	SetLevel(cfg.Level)
	sink.Store(newSink(out, cfg.Format))

	if closer != nil {
		_ = closer.Close()
	}
	closer = c
	return nil
}

// SetOutput redirects the sink to w keeping the text format. Used by tests.
func SetOutput(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink.Store(newSink(w, "text"))
}

// Close releases a file output opened by Configure.
func Close() error {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	sink.Store(newSink(os.Stdout, "text"))
	return err
}

func newSink(out io.Writer, format string) *logrus.Logger {
	var formatter logrus.Formatter
	if strings.EqualFold(format, "json") {
		formatter = &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	} else {
		formatter = &logrus.TextFormatter{
			FullTimestamp:    true,
			TimestampFormat:  timestampFormat,
			DisableColors:    true,
			QuoteEmptyFields: true,
		}
	}

	// logrus holds its own mutex around formatting and writing one entry,
	// which keeps concurrent lines from interleaving.
	return &logrus.Logger{
		Out:       out,
		Formatter: formatter,
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.TraceLevel,
	}
}

func toLogrus(level Level) logrus.Level {
	switch level {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelInfo:
		return logrus.InfoLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		// Entry.Log never exits the process, unlike Logger.Fatal.
		return logrus.FatalLevel
	}
}

// caller returns "file:line" for the frame skip levels above its caller.
func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func log(level Level, format string, v ...any) {
	if level < GetLevel() {
		return
	}

	sinkMu.RLock()
	defer sinkMu.RUnlock()
	sink.Load().WithField("caller", caller(2)).Log(toLogrus(level), fmt.Sprintf(format, v...))
}

func logTagged(tag Tag, format string, v ...any) {
	if GetLevel() == LevelNone {
		return
	}

	sinkMu.RLock()
	defer sinkMu.RUnlock()
	sink.Load().WithFields(logrus.Fields{
		"caller": caller(2),
		"event":  string(tag),
	}).Info(fmt.Sprintf(format, v...))
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}

// Fatal logs at the highest severity. It does not exit.
func Fatal(format string, v ...any) {
	log(LevelFatal, format, v...)
}

// Send records outgoing data on a socket.
func Send(format string, v ...any) {
	logTagged(TagSend, format, v...)
}

// Recv records incoming data or a peer-side event on a socket.
func Recv(format string, v ...any) {
	logTagged(TagRecv, format, v...)
}

// Create records a resource coming to life (listener, connection).
func Create(format string, v ...any) {
	logTagged(TagCreate, format, v...)
}

// Destroy records a resource being released.
func Destroy(format string, v ...any) {
	logTagged(TagDestroy, format, v...)
}

func Auth(format string, v ...any) {
	logTagged(TagAuth, format, v...)
}
