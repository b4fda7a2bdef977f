// Package mtlog is the leveled logging facade threaded through the sender
// and MessageBox. It generalizes the teacher's (unshipped in the retrieved
// sources, but referenced throughout mtproto.go as Logger{log}.Info(...) /
// .Error(err, ...) / .Debug(...) / .Warn(...)) logging shape into a small
// Logger/LogHandler split: Logger is the call-site API, LogHandler is the
// pluggable sink.
package mtlog

import "fmt"

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "LOG"
	}
}

// LogHandler is the pluggable sink. err is nil for Debug/Info/Warn calls.
type LogHandler interface {
	Handle(level Level, err error, msg string)
}

// Logger is the call-site API used by the sender and MessageBox; every
// method mirrors a teacher call (m.log.Info("connecting to DC %d (%s)...",
// dc, addr), m.log.Error(err, "failed to save session data")).
type Logger struct {
	Hnd LogHandler
}

func New(hnd LogHandler) Logger { return Logger{Hnd: hnd} }

func (l Logger) Debug(format string, args ...any) { l.log(LevelDebug, nil, format, args...) }
func (l Logger) Info(format string, args ...any)  { l.log(LevelInfo, nil, format, args...) }
func (l Logger) Warn(format string, args ...any)  { l.log(LevelWarn, nil, format, args...) }

func (l Logger) Error(err error, format string, args ...any) { l.log(LevelError, err, format, args...) }

func (l Logger) log(level Level, err error, format string, args ...any) {
	if l.Hnd == nil {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	l.Hnd.Handle(level, err, msg)
}
