// Package clog sets up structured logging shared by every grove-team
// component: one logrus entry per component, tagged so log lines can be
// filtered by which part of the engine emitted them.
package clog

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		l.SetFormatter(&prettyFormatter{})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	if lvl, err := logrus.ParseLevel(os.Getenv("GROVE_TEAM_LOG_LEVEL")); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// For gets a component-tagged logger, e.g. clog.For("engine").
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// SetOutput redirects the base logger, used by tests to capture output.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// prettyFormatter renders a single colorized line per entry for interactive
// use; falls back to JSON when stderr is not a TTY (see newBase).
type prettyFormatter struct{}

var levelColors = map[logrus.Level]*color.Color{
	logrus.DebugLevel: color.New(color.FgHiBlack),
	logrus.InfoLevel:  color.New(color.FgCyan),
	logrus.WarnLevel:  color.New(color.FgYellow),
	logrus.ErrorLevel: color.New(color.FgRed),
	logrus.FatalLevel: color.New(color.FgRed, color.Bold),
}

func (f *prettyFormatter) Format(e *logrus.Entry) ([]byte, error) {
	c, ok := levelColors[e.Level]
	if !ok {
		c = color.New(color.Reset)
	}

	line := c.Sprintf("%-5s", e.Level.String()) + " " + e.Message
	for k, v := range e.Data {
		line += " " + color.HiBlackString(k) + "=" + color.WhiteString("%v", v)
	}
	line += "\n"
	return []byte(line), nil
}
