// Package progress renders the Scheduler's event stream (§7) to a
// terminal, either as plain colored log lines (the default) or as a
// small bubbletea program behind a --tui flag. Grounded on the pack's
// ShayCichocki-Alphie example, which is the only repo in the corpus
// exercising fatih/color and charmbracelet/bubbletea together.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"docforge/internal/scheduler"
)

// PlainRenderer prints one colored line per scheduler.Event to w.
type PlainRenderer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewPlainRenderer builds a renderer writing to w.
func NewPlainRenderer(w io.Writer) *PlainRenderer {
	return &PlainRenderer{w: w}
}

// OnEvent is a scheduler.Params.OnEvent-compatible callback.
func (r *PlainRenderer) OnEvent(ev scheduler.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := ev.ModuleName
	if name == "" && len(ev.ModulePath) > 0 {
		name = ev.ModulePath[len(ev.ModulePath)-1]
	}

	switch ev.Kind {
	case scheduler.EventStarted:
		fmt.Fprintf(r.w, "%s %s\n", color.CyanString("→"), name)
	case scheduler.EventSucceeded:
		fmt.Fprintf(r.w, "%s %s %s\n", color.GreenString("✓"), name,
			color.HiBlackString("(%d/%d, %dms)", ev.Index, ev.Total, ev.ElapsedMS))
	case scheduler.EventFailed:
		fmt.Fprintf(r.w, "%s %s %s\n", color.RedString("✗"), name, color.HiBlackString("(%d/%d): %v", ev.Index, ev.Total, ev.Err))
	case scheduler.EventSkipped:
		fmt.Fprintf(r.w, "%s %s %s\n", color.YellowString("·"), name, color.HiBlackString("already done"))
	}
}
