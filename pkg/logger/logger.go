package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger is the leveled key/value logger used across the service
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

type logLevel int

const (
	debugLevel logLevel = iota
	infoLevel
	warnLevel
	errorLevel
)

type stdLogger struct {
	out    *log.Logger
	errOut *log.Logger
	level  logLevel
}

// NewLogger creates a new logger with the specified minimum level
func NewLogger(level string) Logger {
	var l logLevel

	switch strings.ToLower(level) {
	case "debug":
		l = debugLevel
	case "info":
		l = infoLevel
	case "warn":
		l = warnLevel
	case "error":
		l = errorLevel
	default:
		l = infoLevel
	}

	return &stdLogger{
		out:    log.New(os.Stdout, "", log.Ldate|log.Ltime),
		errOut: log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile),
		level:  l,
	}
}

func (l *stdLogger) Debug(msg string, keyvals ...interface{}) {
	if l.level <= debugLevel {
		l.out.Println("DEBUG: " + formatMsg(msg, keyvals...))
	}
}

func (l *stdLogger) Info(msg string, keyvals ...interface{}) {
	if l.level <= infoLevel {
		l.out.Println("INFO: " + formatMsg(msg, keyvals...))
	}
}

func (l *stdLogger) Warn(msg string, keyvals ...interface{}) {
	if l.level <= warnLevel {
		l.out.Println("WARN: " + formatMsg(msg, keyvals...))
	}
}

func (l *stdLogger) Error(msg string, keyvals ...interface{}) {
	if l.level <= errorLevel {
		l.errOut.Println("ERROR: " + formatMsg(msg, keyvals...))
	}
}

func formatMsg(msg string, keyvals ...interface{}) string {
	if len(keyvals) == 0 {
		return msg
	}

	var b strings.Builder
	b.WriteString(msg)

	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprintf("%v", keyvals[i])

		value := "missing"
		if i+1 < len(keyvals) {
			value = fmt.Sprintf("%v", keyvals[i+1])
		}

		b.WriteString(" " + key + "=" + value)
	}

	return b.String()
}

// Nop returns a logger that discards everything, for tests
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
