// Package logger provides the structured key/value logger used throughout
// the plugin. It is intentionally dependency-free: the wire protocol and
// job lifecycle are chatty enough at debug level that a hand-rolled
// formatter keeps startup fast and output predictable across platforms.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
)

// Level represents the severity of a log line.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	OFF
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case OFF:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses the --log-level flag value (off|error|warning|info|debug).
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "off":
		return OFF, nil
	default:
		return WARN, fmt.Errorf("unknown log level: %s", s)
	}
}

// Logger is an immutable-after-WithX structured logger. Each WithField/
// WithFields/WithMode call returns an independent copy so concurrent
// per-job and per-stream code paths can derive loggers without racing on
// a shared field map.
type Logger struct {
	level  Level
	out    *log.Logger
	fields map[string]interface{}
	mode   string
}

// Config configures a new Logger.
type Config struct {
	Level  Level
	Output io.Writer
	Mode   string
}

// New creates a default logger writing to stderr at WARN level, matching
// the plugin's default --log-level.
func New() *Logger {
	return NewWithConfig(Config{Level: WARN, Output: os.Stderr})
}

// NewWithConfig creates a logger from an explicit configuration.
func NewWithConfig(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	return &Logger{
		level:  cfg.Level,
		out:    log.New(cfg.Output, "", 0),
		fields: make(map[string]interface{}),
		mode:   cfg.Mode,
	}
}

// WithFields returns a copy of the logger with additional key/value pairs
// merged into its field set. keyVals must be an even-length list.
func (l *Logger) WithFields(keyVals ...interface{}) *Logger {
	n := &Logger{
		level:  l.level,
		out:    l.out,
		mode:   l.mode,
		fields: make(map[string]interface{}, len(l.fields)+len(keyVals)/2),
	}
	for k, v := range l.fields {
		n.fields[k] = v
	}
	for i := 0; i+1 < len(keyVals); i += 2 {
		n.fields[fmt.Sprintf("%v", keyVals[i])] = keyVals[i+1]
	}
	return n
}

// WithField is shorthand for WithFields(key, value).
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(key, value)
}

// WithMode returns a copy of the logger tagged with a run mode
// (e.g. "server", "local-backend").
func (l *Logger) WithMode(mode string) *Logger {
	n := l.WithFields()
	n.mode = mode
	return n
}

func (l *Logger) SetLevel(level Level) { l.level = level }
func (l *Logger) GetLevel() Level      { return l.level }
func (l *Logger) IsDebugEnabled() bool { return l.level <= DEBUG }

func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(DEBUG, msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.log(INFO, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.log(WARN, msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.log(ERROR, msg, kv...) }

func (l *Logger) Fatal(msg string, kv ...interface{}) {
	l.log(ERROR, msg, kv...)
	os.Exit(1)
}

func (l *Logger) log(level Level, msg string, kv ...interface{}) {
	if level < l.level || l.level == OFF {
		return
	}

	all := make(map[string]interface{}, len(l.fields)+len(kv)/2)
	for k, v := range l.fields {
		all[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		all[fmt.Sprintf("%v", kv[i])] = kv[i+1]
	}

	l.out.Print(l.format(level, msg, all))
}

func (l *Logger) format(level Level, msg string, fields map[string]interface{}) string {
	var parts []string
	parts = append(parts, "["+time.Now().UTC().Format("2006-01-02T15:04:05.000Z")+"]")
	parts = append(parts, "["+level.String()+"]")
	if l.mode != "" {
		parts = append(parts, "["+l.mode+"]")
	}
	parts = append(parts, msg)

	if len(fields) > 0 {
		var fp []string
		for k, v := range fields {
			fp = append(fp, fmt.Sprintf("%s=%v", k, formatValue(v)))
		}
		parts = append(parts, "|", strings.Join(fp, " "))
	}
	return strings.Join(parts, " ")
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		if strings.Contains(t, " ") {
			return fmt.Sprintf("%q", t)
		}
		return t
	case error:
		return fmt.Sprintf("%q", t.Error())
	case time.Duration:
		return t.String()
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

var global = New()

func SetGlobalMode(mode string)                  { global = global.WithMode(mode) }
func SetLevel(level Level)                       { global.SetLevel(level) }
func Debug(msg string, kv ...interface{})        { global.Debug(msg, kv...) }
func Info(msg string, kv ...interface{})         { global.Info(msg, kv...) }
func Warn(msg string, kv ...interface{})         { global.Warn(msg, kv...) }
func Error(msg string, kv ...interface{})        { global.Error(msg, kv...) }
func Fatal(msg string, kv ...interface{})        { global.Fatal(msg, kv...) }
func WithField(k string, v interface{}) *Logger  { return global.WithField(k, v) }
func WithFields(kv ...interface{}) *Logger       { return global.WithFields(kv...) }
