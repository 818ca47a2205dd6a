// Package cli provides the apex/log handler streamfs writes its log output
// with, to the terminal and to the rotated log file.
package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
)

// Default writes colored output to stderr, keeping stdout for the output of
// commands.
var Default = New(os.Stderr, true)

var (
	bold    = color.New(color.Bold)
	boldred = color.New(color.Bold, color.FgRed)
)

var levels = [...]string{
	log.DebugLevel: "DEBUG",
	log.InfoLevel:  " INFO",
	log.WarnLevel:  " WARN",
	log.ErrorLevel: "ERROR",
	log.FatalLevel: "FATAL",
}

type Handler struct {
	mu      sync.Mutex
	Writer  io.Writer
	Padding int
	// Now is the clock entries are stamped with.
	Now func() time.Time
	// Stacktraces prints the stack of an "error" field below the entry.
	Stacktraces bool
}

// New returns a handler writing to w. Colors are only kept when w is a
// terminal file and useColors is set, everything else gets the escape codes
// stripped.
func New(w io.Writer, useColors bool) *Handler {
	h := &Handler{Padding: 2, Now: time.Now}
	if f, ok := w.(*os.File); ok && useColors {
		h.Writer = colorable.NewColorable(f)
	} else {
		h.Writer = colorable.NewNonColorable(w)
	}
	return h
}

// HandleLog implements log.Handler.
func (h *Handler) HandleLog(e *log.Entry) error {
	c := cli.Colors[e.Level]
	names := e.Fields.Names()

	h.mu.Lock()
	defer h.mu.Unlock()

	c.Fprintf(h.Writer, "%s: [%s] %-25s", bold.Sprintf("%*s", h.Padding+1, levels[e.Level]), h.Now().Format(time.StampMilli), e.Message)
	for _, name := range names {
		if name == "source" {
			continue
		}
		fmt.Fprintf(h.Writer, " %s=%v", c.Sprint(name), e.Fields.Get(name))
	}
	fmt.Fprintln(h.Writer)

	if err, ok := e.Fields.Get("error").(error); ok && h.Stacktraces {
		// Attach a stack if the error has none yet, skipping this frame.
		err = errors.WithStackDepthIf(err, 1)
		fmt.Fprintf(h.Writer, "\n%s\n%+v\n\n", boldred.Sprintf("Stacktrace:"), err)
	}
	return nil
}
