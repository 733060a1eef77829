package wotlog

import (
	"fmt"
	"log"
	"os"
	"time"
)

// Level is one of the five log levels the engine reports at.
type Level int

const (
	LevelDebug Level = iota
	LevelMinor
	LevelNormal
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelMinor:
		return "minor"
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Logger is a small structured logger shared by every package in the
// daemon. It carries no external dependency: fields are rendered as
// key=value pairs after the message.
type Logger struct {
	component string
	level     Level
	out       *log.Logger
}

// New creates a logger for a component, filtering messages below level.
func New(component string, level Level) *Logger {
	return &Logger{
		component: component,
		level:     level,
		out:       log.New(os.Stderr, "", 0),
	}
}

func (l *Logger) shouldLog(level Level) bool {
	return level >= l.level
}

func (l *Logger) format(level Level, msg string, fields map[string]interface{}) string {
	ts := time.Now().Format(time.RFC3339)
	out := fmt.Sprintf("[%s] %s %s: %s", ts, level.String(), l.component, msg)
	if len(fields) > 0 {
		out += " |"
		for k, v := range fields {
			out += fmt.Sprintf(" %s=%v", k, v)
		}
	}
	return out
}

func (l *Logger) log(level Level, msg string, fields map[string]interface{}) {
	if !l.shouldLog(level) {
		return
	}
	l.out.Println(l.format(level, msg, fields))
}

func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, firstOrNil(fields))
}

func (l *Logger) Minor(msg string, fields ...map[string]interface{}) {
	l.log(LevelMinor, msg, firstOrNil(fields))
}

func (l *Logger) Normal(msg string, fields ...map[string]interface{}) {
	l.log(LevelNormal, msg, firstOrNil(fields))
}

func (l *Logger) Warning(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarning, msg, firstOrNil(fields))
}

func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, firstOrNil(fields))
}

func firstOrNil(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	return fields[0]
}

// WithFields returns a context carrying default fields merged into every
// subsequent call.
func (l *Logger) WithFields(fields map[string]interface{}) *LoggerContext {
	return &LoggerContext{logger: l, fields: fields}
}

// WithIdentity tags log lines with the subject identity id they concern.
func (l *Logger) WithIdentity(identityID string) *LoggerContext {
	return l.WithFields(map[string]interface{}{"identity_id": identityID})
}

// WithPeer tags log lines with the remote peer they concern.
func (l *Logger) WithPeer(peerID string) *LoggerContext {
	return l.WithFields(map[string]interface{}{"peer_id": peerID})
}

// LoggerContext is a Logger bound to a fixed set of fields.
type LoggerContext struct {
	logger *Logger
	fields map[string]interface{}
}

func (lc *LoggerContext) merge(additional map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(lc.fields)+len(additional))
	for k, v := range lc.fields {
		merged[k] = v
	}
	for k, v := range additional {
		merged[k] = v
	}
	return merged
}

func (lc *LoggerContext) Debug(msg string, fields ...map[string]interface{}) {
	lc.logger.log(LevelDebug, msg, lc.merge(firstOrNil(fields)))
}

func (lc *LoggerContext) Minor(msg string, fields ...map[string]interface{}) {
	lc.logger.log(LevelMinor, msg, lc.merge(firstOrNil(fields)))
}

func (lc *LoggerContext) Normal(msg string, fields ...map[string]interface{}) {
	lc.logger.log(LevelNormal, msg, lc.merge(firstOrNil(fields)))
}

func (lc *LoggerContext) Warning(msg string, fields ...map[string]interface{}) {
	lc.logger.log(LevelWarning, msg, lc.merge(firstOrNil(fields)))
}

func (lc *LoggerContext) Error(msg string, fields ...map[string]interface{}) {
	lc.logger.log(LevelError, msg, lc.merge(firstOrNil(fields)))
}
