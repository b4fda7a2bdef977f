package mtlog

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
)

// ConsoleHandler is the default LogHandler: colorized level tags on
// stderr, in the style of the teacher's own SimpleLogHandler (referenced
// in mtproto.go's NewMTProto as &SimpleLogHandler{} but not present in the
// retrieved sources). fatih/color is the teacher's own dependency.
type ConsoleHandler struct {
	MinLevel Level
}

func NewConsoleHandler() *ConsoleHandler { return &ConsoleHandler{MinLevel: LevelDebug} }

var levelColor = map[Level]*color.Color{
	LevelDebug: color.New(color.FgHiBlack),
	LevelInfo:  color.New(color.FgCyan),
	LevelWarn:  color.New(color.FgYellow, color.Bold),
	LevelError: color.New(color.FgRed, color.Bold),
}

func (h *ConsoleHandler) Handle(level Level, err error, msg string) {
	if level < h.MinLevel {
		return
	}
	c, ok := levelColor[level]
	if !ok {
		c = color.New(color.Reset)
	}
	tag := c.Sprintf("%-5s", level.String())
	ts := time.Now().Format("15:04:05.000")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s %s: %v\n", ts, tag, msg, err)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s %s\n", ts, tag, msg)
}
