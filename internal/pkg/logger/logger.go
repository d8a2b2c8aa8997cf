// Package logger is a small leveled JSON logger used where structured
// output matters (queue internals, provider call diagnostics). Most
// component code logs via stdlib log.Printf with a [Component] prefix;
// this package backs the pieces that feed log aggregation.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps a config string onto a Level; unknown strings mean INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

type logger struct {
	mu        sync.Mutex
	level     Level
	redactPII bool
}

var std = &logger{level: INFO, redactPII: true}

// SetLevel sets the minimum level that gets emitted.
func SetLevel(l Level) { std.level = l }

// SetRedactPII toggles address/number redaction in field values. On by
// default; message bodies and recipient addresses are PII.
func SetRedactPII(r bool) { std.redactPII = r }

// Debug emits a DEBUG entry. Fields are alternating key, value pairs.
func Debug(msg string, fields ...any) { std.log(DEBUG, msg, fields...) }

// Info emits an INFO entry.
func Info(msg string, fields ...any) { std.log(INFO, msg, fields...) }

// Warn emits a WARN entry.
func Warn(msg string, fields ...any) { std.log(WARN, msg, fields...) }

// Error emits an ERROR entry.
func Error(msg string, fields ...any) { std.log(ERROR, msg, fields...) }

func (l *logger) log(level Level, msg string, fields ...any) {
	if level < l.level {
		return
	}

	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": levelNames[level],
		"msg":   msg,
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fields[i+1]
		if s, ok := val.(string); ok && l.redactPII {
			val = Redact(s)
		}
		entry[key] = val
	}

	data, err := json.Marshal(entry)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"level":%q,"msg":%q}`, levelNames[level], msg))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	os.Stderr.Write(append(data, '\n'))
}
