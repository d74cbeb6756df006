package progress

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"docforge/internal/scheduler"
)

func TestPlainRenderer_StartedLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)
	r.OnEvent(scheduler.Event{Kind: scheduler.EventStarted, ModuleName: "parser"})
	if !strings.Contains(buf.String(), "parser") {
		t.Fatalf("expected module name in output, got %q", buf.String())
	}
}

func TestPlainRenderer_SucceededLineIncludesProgress(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)
	r.OnEvent(scheduler.Event{Kind: scheduler.EventSucceeded, ModuleName: "lexer", Index: 2, Total: 5, ElapsedMS: 120})
	out := buf.String()
	if !strings.Contains(out, "lexer") || !strings.Contains(out, "2/5") || !strings.Contains(out, "120ms") {
		t.Fatalf("got %q", out)
	}
}

func TestPlainRenderer_FailedLineIncludesError(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)
	r.OnEvent(scheduler.Event{Kind: scheduler.EventFailed, ModuleName: "writer", Index: 1, Total: 3, Err: errors.New("boom")})
	out := buf.String()
	if !strings.Contains(out, "writer") || !strings.Contains(out, "boom") {
		t.Fatalf("got %q", out)
	}
}

func TestPlainRenderer_SkippedLine(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)
	r.OnEvent(scheduler.Event{Kind: scheduler.EventSkipped, ModuleName: "cache"})
	out := buf.String()
	if !strings.Contains(out, "cache") || !strings.Contains(out, "already done") {
		t.Fatalf("got %q", out)
	}
}

func TestPlainRenderer_FallsBackToLastPathSegmentWhenNameEmpty(t *testing.T) {
	var buf bytes.Buffer
	r := NewPlainRenderer(&buf)
	r.OnEvent(scheduler.Event{Kind: scheduler.EventStarted, ModulePath: []string{"internal", "parser", "lexer"}})
	if !strings.Contains(buf.String(), "lexer") {
		t.Fatalf("expected last path segment in output, got %q", buf.String())
	}
}

func TestTUIModel_UpdateTracksProgressAndQuitsWhenDone(t *testing.T) {
	ch := make(chan scheduler.Event, 4)
	m := NewTUIModel(ch)

	m2, _ := m.Update(eventMsg(scheduler.Event{Kind: scheduler.EventSucceeded, ModuleName: "a", Total: 2}))
	model := m2.(TUIModel)
	if model.done != 1 || model.total != 2 {
		t.Fatalf("got done=%d total=%d", model.done, model.total)
	}

	m3, _ := model.Update(eventMsg(scheduler.Event{Kind: scheduler.EventFailed, ModuleName: "b", Total: 2, Err: errors.New("x")}))
	final := m3.(TUIModel)
	if final.done != 2 || final.failed != 1 {
		t.Fatalf("got done=%d failed=%d", final.done, final.failed)
	}
	if !strings.Contains(final.View(), "2/2") {
		t.Fatalf("view missing progress: %q", final.View())
	}
}
