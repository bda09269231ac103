package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Fields is attached to every entry of a derived logger.
type Fields map[string]interface{}

var (
	baseMu sync.RWMutex
	base   = newBase(os.Stdout, logrus.InfoLevel)
)

// -----------------------------------------------------------------------------

func newBase(out io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	return l
}

// -----------------------------------------------------------------------------

// Setup configures the process-wide backend. An empty file keeps stdout;
// otherwise output goes to a size-rotated file.
func Setup(level, file string) {
	var out io.Writer = os.Stdout
	if file != "" {
		out = &lumberjack.Logger{
			Filename: file,
			MaxSize:  100,
			MaxAge:   14,
			Compress: true,
		}
	}
	SetOutput(out, level)
}

// -----------------------------------------------------------------------------

// SetOutput replaces the backend writer. The websocket worker points it at its
// stdout pipe; tests point it at a buffer.
func SetOutput(out io.Writer, level string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = logrus.InfoLevel
	}
	baseMu.Lock()
	base = newBase(out, lvl)
	baseMu.Unlock()
}

// -----------------------------------------------------------------------------

func backend() *logrus.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return base
}

// -----------------------------------------------------------------------------

// Logger provides structured logging functionality
type Logger struct {
	name   string
	fields Fields
	config interface{}
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance
func NewLogger(config interface{}, name string) *Logger {
	return &Logger{
		name:   name,
		config: config,
	}
}

// -----------------------------------------------------------------------------

// WithFields returns a copy of the logger that attaches fields to every entry.
func (l *Logger) WithFields(fields Fields) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{name: l.name, fields: merged, config: l.config}
}

// -----------------------------------------------------------------------------

// Name returns the component name.
func (l *Logger) Name() string {
	return l.name
}

// -----------------------------------------------------------------------------

func (l *Logger) entry() *logrus.Entry {
	e := backend().WithField("component", l.name)
	if len(l.fields) > 0 {
		e = e.WithFields(logrus.Fields(l.fields))
	}
	return e
}

// -----------------------------------------------------------------------------

// Debug logs diagnostic messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry().Debug(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Warning logs recoverable problems
func (l *Logger) Warning(format string, args ...interface{}) {
	l.entry().Warn(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.entry().Info(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry().Error(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.entry().Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}
