package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Logger is the minimal logging surface the rpc client and server expect.
// Both tolerate a nil Logger.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	debugTag = color.New(color.FgCyan, color.Bold).Sprint("DEBUG")
	infoTag  = color.New(color.FgGreen, color.Bold).Sprint("INFO ")
	warnTag  = color.New(color.FgYellow, color.Bold).Sprint("WARN ")
	errorTag = color.New(color.FgRed, color.Bold).Sprint("ERROR")
)

// TermLogger writes timestamped, level-tagged lines to a writer.
type TermLogger struct {
	level Level
	out   io.Writer
	mu    sync.Mutex
}

func NewTermLogger(level Level) *TermLogger {
	return &TermLogger{
		level: level,
		out:   os.Stderr,
	}
}

func NewTermLoggerWithWriter(level Level, out io.Writer) *TermLogger {
	return &TermLogger{
		level: level,
		out:   out,
	}
}

func (l *TermLogger) log(level Level, tag string, msg string) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s %s %s\n", time.Now().Format(time.RFC3339), tag, msg)
}

func (l *TermLogger) Debug(msg string) {
	l.log(LevelDebug, debugTag, msg)
}

func (l *TermLogger) Info(msg string) {
	l.log(LevelInfo, infoTag, msg)
}

func (l *TermLogger) Warn(msg string) {
	l.log(LevelWarn, warnTag, msg)
}

func (l *TermLogger) Error(msg string) {
	l.log(LevelError, errorTag, msg)
}
