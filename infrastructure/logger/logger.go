package logger

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Logger is a subsystem logger writing into the shared backend. A tag
// describes the subsystem and is included in all log messages.
type Logger struct {
	lvl     uint32 // atomic, holds a Level
	tag     string
	backend *Backend
}

var (
	registryMtx sync.Mutex
	subsystems  = make(map[string]*Logger)

	// BackendLog is the shared logging backend all subsystem loggers
	// write into.
	BackendLog = NewBackend()
)

// RegisterSubSystem returns a logger for the given subsystem tag, creating
// it if it was not registered before. All loggers share the same backend.
func RegisterSubSystem(tag string) *Logger {
	registryMtx.Lock()
	defer registryMtx.Unlock()
	if log, ok := subsystems[tag]; ok {
		return log
	}
	log := &Logger{lvl: uint32(LevelInfo), tag: tag, backend: BackendLog}
	subsystems[tag] = log
	return log
}

// SetLogLevels sets the level of every registered subsystem logger.
func SetLogLevels(level Level) {
	registryMtx.Lock()
	defer registryMtx.Unlock()
	for _, log := range subsystems {
		log.SetLevel(level)
	}
}

// Level returns the current logging level of the logger.
func (l *Logger) Level() Level {
	return Level(atomic.LoadUint32(&l.lvl))
}

// SetLevel changes the logging level of the logger.
func (l *Logger) SetLevel(level Level) {
	atomic.StoreUint32(&l.lvl, uint32(level))
}

// Backend returns the backend this logger writes into.
func (l *Logger) Backend() *Backend {
	return l.backend
}

func (l *Logger) print(level Level, args ...interface{}) {
	if level < l.Level() {
		return
	}
	l.write(level, fmt.Sprint(args...))
}

func (l *Logger) printf(level Level, format string, args ...interface{}) {
	if level < l.Level() {
		return
	}
	l.write(level, fmt.Sprintf(format, args...))
}

func (l *Logger) write(level Level, message string) {
	var buf bytes.Buffer
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(&buf, "%s [%s] %s: %s\n", timestamp, level, l.tag, message)
	l.backend.write(level, buf.Bytes())
}

// Trace formats a message using the default formats for its operands and
// writes it at the trace level.
func (l *Logger) Trace(args ...interface{}) { l.print(LevelTrace, args...) }

// Tracef formats a message according to a format specifier and writes it
// at the trace level.
func (l *Logger) Tracef(format string, args ...interface{}) { l.printf(LevelTrace, format, args...) }

// Debug writes a message at the debug level.
func (l *Logger) Debug(args ...interface{}) { l.print(LevelDebug, args...) }

// Debugf writes a formatted message at the debug level.
func (l *Logger) Debugf(format string, args ...interface{}) { l.printf(LevelDebug, format, args...) }

// Info writes a message at the info level.
func (l *Logger) Info(args ...interface{}) { l.print(LevelInfo, args...) }

// Infof writes a formatted message at the info level.
func (l *Logger) Infof(format string, args ...interface{}) { l.printf(LevelInfo, format, args...) }

// Warn writes a message at the warn level.
func (l *Logger) Warn(args ...interface{}) { l.print(LevelWarn, args...) }

// Warnf writes a formatted message at the warn level.
func (l *Logger) Warnf(format string, args ...interface{}) { l.printf(LevelWarn, format, args...) }

// Error writes a message at the error level.
func (l *Logger) Error(args ...interface{}) { l.print(LevelError, args...) }

// Errorf writes a formatted message at the error level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.printf(LevelError, format, args...) }

// Critical writes a message at the critical level.
func (l *Logger) Critical(args ...interface{}) { l.print(LevelCritical, args...) }

// Criticalf writes a formatted message at the critical level.
func (l *Logger) Criticalf(format string, args ...interface{}) { l.printf(LevelCritical, format, args...) }

func init() {
	BackendLog.AddLogWriter(os.Stderr, LevelWarn)
}
