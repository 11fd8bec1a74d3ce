// Package lalog provides the structured, rate-limited logger shared by every
// postwhite component.
package lalog

import (
	"bytes"
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"time"
	"unicode"
)

// MaxLogMessageLen is the maximum length of a single formatted log message.
const MaxLogMessageLen = 2048

// MaxLogMessagePerSec is the maximum number of messages each logger instance
// will print per second; additional messages within the same second are
// dropped to protect stderr from a misbehaving or abusive connection.
var MaxLogMessagePerSec = runtime.NumCPU() * 100

// LoggerIDField is a key-value pair that identifies which component
// instance produced a log message, e.g. {Key: "Addr", Value: "0.0.0.0:10025"}.
type LoggerIDField struct {
	Key   string
	Value interface{}
}

// Logger writes component-tagged, rate-limited log messages in a regular
// format.
type Logger struct {
	ComponentName string
	ComponentID   []LoggerIDField

	initOnce  sync.Once
	rateLimit *RateLimit
}

func (logger *Logger) initialiseOnce() {
	logger.initOnce.Do(func() {
		logger.rateLimit = NewRateLimit(1, MaxLogMessagePerSec, nil)
	})
}

func (logger *Logger) getComponentIDs() string {
	if len(logger.ComponentID) == 0 {
		return ""
	}
	var msg bytes.Buffer
	msg.WriteRune('[')
	for i, field := range logger.ComponentID {
		msg.WriteString(fmt.Sprintf("%s=%v", field.Key, field.Value))
		if i < len(logger.ComponentID)-1 {
			msg.WriteRune(';')
		}
	}
	msg.WriteRune(']')
	return msg.String()
}

// Format composes a log message, e.g.
// "policyserver[Addr=0.0.0.0;Port=10025].HandleConnection(203.0.113.5): Error "EOF" - connection aborted"
// without printing it.
func (logger *Logger) Format(functionName string, actor interface{}, err error, template string, values ...interface{}) string {
	var msg bytes.Buffer
	if logger.ComponentName != "" {
		msg.WriteString(logger.ComponentName)
	}
	msg.WriteString(logger.getComponentIDs())
	if functionName != "" {
		if msg.Len() > 0 {
			msg.WriteRune('.')
		}
		msg.WriteString(functionName)
	}
	if actor != nil && actor != "" {
		msg.WriteString(fmt.Sprintf("(%v)", actor))
	}
	if msg.Len() > 0 {
		msg.WriteString(": ")
	}
	if err != nil {
		msg.WriteString(fmt.Sprintf("Error \"%v\"", err))
		if template != "" {
			msg.WriteString(" - ")
		}
	}
	msg.WriteString(fmt.Sprintf(template, values...))
	return lintString(truncateString(msg.String(), MaxLogMessageLen), MaxLogMessageLen)
}

// Warning prints a log message that comes with an error.
func (logger *Logger) Warning(functionName string, actor interface{}, err error, template string, values ...interface{}) {
	logger.initialiseOnce()
	if !logger.rateLimit.Add("", false) {
		return
	}
	log.Print(time.Now().Format("2006-01-02 15:04:05 ") + logger.Format(functionName, actor, err, template, values...))
}

// Info prints a log message that does not come with an error. If err is not
// nil, Info delegates to Warning instead.
func (logger *Logger) Info(functionName string, actor interface{}, err error, template string, values ...interface{}) {
	if err != nil {
		logger.Warning(functionName, actor, err, template, values...)
		return
	}
	logger.initialiseOnce()
	if !logger.rateLimit.Add("", false) {
		return
	}
	log.Print(time.Now().Format("2006-01-02 15:04:05 ") + logger.Format(functionName, actor, nil, template, values...))
}

// Abort prints a log message and then terminates the program, used only for
// unrecoverable startup failures (e.g. a malformed config.yml).
func (logger *Logger) Abort(functionName string, actor interface{}, err error, template string, values ...interface{}) {
	log.Fatal(logger.Format(functionName, actor, err, template, values...))
}

// DefaultLogger is used where acquiring a dedicated, component-specific
// logger is not practical.
var DefaultLogger = &Logger{ComponentName: "postwhite"}

// truncateString keeps the input as-is when short enough, otherwise removes
// text from the middle and marks the cut.
func truncateString(in string, maxLength int) string {
	const marker = "...(truncated)..."
	if maxLength < 0 {
		maxLength = 0
	}
	if len(in) <= maxLength {
		return in
	}
	if maxLength <= len(marker) {
		return in[:maxLength]
	}
	firstHalfEnd := maxLength/2 - len(marker)/2
	secondHalfBegin := len(in) - (maxLength / 2) + len(marker)/2
	if maxLength%2 == 0 {
		secondHalfBegin++
	}
	var buf bytes.Buffer
	buf.WriteString(in[:firstHalfEnd])
	buf.WriteString(marker)
	buf.WriteString(in[secondHalfBegin:])
	return buf.String()
}

// lintString replaces non-printable characters with an underscore and caps
// the result to maxLength, so that a malicious MTA-supplied attribute cannot
// corrupt the log stream.
func lintString(in string, maxLength int) string {
	if maxLength < 0 {
		maxLength = 0
	}
	var cleaned bytes.Buffer
	for i, r := range in {
		if i >= maxLength {
			break
		}
		if (r >= 0 && r <= 8) || (r >= 14 && r <= 31) || r >= 127 ||
			(!unicode.IsPrint(r) && !unicode.IsSpace(r)) {
			cleaned.WriteRune('_')
		} else {
			cleaned.WriteRune(r)
		}
	}
	return strings.TrimRight(cleaned.String(), "\x00")
}
