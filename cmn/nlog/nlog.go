// Package nlog is a minimal leveled logger: unbuffered, synchronous,
// timestamped. It exists so the rest of the module never imports the
// standard "log" package directly, and so log lines carry a
// consistent, greppable severity prefix.
package nlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevTag = [...]string{"I", "W", "E"}

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
)

// SetOutput redirects log output; primarily for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

func logf(sev severity, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("%s %s %s\n", time.Now().Format("15:04:05.000000"), sevTag[sev], msg)
	mu.Lock()
	_, _ = out.Write([]byte(line))
	mu.Unlock()
}

func Infof(format string, args ...any)    { logf(sevInfo, format, args...) }
func Infoln(args ...any)                  { logf(sevInfo, "%s", fmt.Sprintln(args...)) }
func Warningf(format string, args ...any) { logf(sevWarn, format, args...) }
func Warningln(args ...any)               { logf(sevWarn, "%s", fmt.Sprintln(args...)) }
func Errorf(format string, args ...any)   { logf(sevErr, format, args...) }
func Errorln(args ...any)                 { logf(sevErr, "%s", fmt.Sprintln(args...)) }
