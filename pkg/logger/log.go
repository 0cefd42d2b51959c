package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type LogStatus int

const (
	VERBOSE LogStatus = iota
	DEBUG
	INFO
	SUCCESS
	NEW
	REMOVE
	STOP
	WARNING
	ERROR
	FATAL
)

func (e LogStatus) String() string {
	return []string{
		"V",
		"D",
		"I",
		"✓",
		"+",
		"-",
		"X",
		"!",
		"!!",
		"PANIC",
	}[e]
}

func (e LogStatus) Color() *color.Color {
	return []*color.Color{
		color.New(color.FgWhite, color.Italic),
		color.New(color.FgWhite, color.Italic),
		color.New(color.FgWhite),
		color.New(color.FgHiGreen),
		color.New(color.FgGreen, color.Italic),
		color.New(color.FgYellow, color.Italic),
		color.New(color.FgHiYellow),
		color.New(color.FgYellow, color.Underline),
		color.New(color.FgHiRed, color.Bold),
		color.New(color.FgHiRed, color.Bold, color.Underline),
	}[e]
}

// ParseLogStatus maps a config-supplied level name (e.g. "DEBUG") to
// its LogStatus. Unrecognised names fall back to INFO.
func ParseLogStatus(name string) LogStatus {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "VERBOSE":
		return VERBOSE
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARNING", "WARN":
		return WARNING
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

type Logger interface {
	Emit(LogStatus, string, ...interface{})
}

type loggerImpl struct {
	name string
}

func (l *loggerImpl) Emit(status LogStatus, message string, interpolations ...interface{}) {
	Log.Emit(status, l.name, message, interpolations...)
}

type LoggerManager interface {
	GetLogger(string) Logger
	Emit(LogStatus, string, string, ...interface{})
}

var Log LoggerManager = &loggerMgr{
	minStat: INFO,
	console: true,
}

type loggerMgr struct {
	mu      sync.Mutex
	offset  int
	minStat LogStatus
	console bool
	file    io.WriteCloser
}

func (l *loggerMgr) GetLogger(name string) Logger {
	return &loggerImpl{name: name}
}

func (l *loggerMgr) Emit(status LogStatus, name string, message string, interpolations ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if status < l.minStat {
		return
	}

	l.setNameOffset(len(name))
	padding := strings.Repeat(" ", l.offset-len(name))
	msg := fmt.Sprintf("[%s] %s(%s) %s", name, padding, status, fmt.Sprintf(message, interpolations...))

	if l.console {
		status.Color().Print(msg)
	}

	if l.file != nil {
		stamp := time.Now().Format("2006-01-02 15:04:05.000")
		fmt.Fprintf(l.file, "%s %s", stamp, msg)
	}
}

func (l *loggerMgr) setNameOffset(offset int) {
	if offset > l.offset {
		l.offset = offset
	}
}

func Get(name string) Logger {
	return Log.GetLogger(name)
}

// SetMinLoggingLevel raises or lowers the threshold below which
// emissions are discarded.
func SetMinLoggingLevel(level LogStatus) {
	mgr := Log.(*loggerMgr)
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.minStat = level
}

// SetConsoleLogging enables or disables the colored stdout sink.
func SetConsoleLogging(enabled bool) {
	mgr := Log.(*loggerMgr)
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.console = enabled
}

// EnableFileLogging opens (creating the directory if needed) an append-mode
// log file at dir/iris.log and mirrors every emission to it. Any previously
// opened log file is closed first.
func EnableFileLogging(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create log directory %s: %w", dir, err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "iris.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("cannot open log file: %w", err)
	}

	mgr := Log.(*loggerMgr)
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.file != nil {
		mgr.file.Close()
	}
	mgr.file = f

	return nil
}
