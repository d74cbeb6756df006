package progress

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docforge/internal/scheduler"
)

var (
	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleFail = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// eventMsg adapts a scheduler.Event into a bubbletea message.
type eventMsg scheduler.Event

// TUIModel is a minimal bubbletea program rendering one status line per
// module plus a running count, fed by events pushed from EventsCh.
type TUIModel struct {
	EventsCh chan scheduler.Event

	bar       progress.Model
	total     int
	done      int
	failed    int
	lastLines []string
}

// NewTUIModel builds a model that listens on ch for scheduler events.
func NewTUIModel(ch chan scheduler.Event) TUIModel {
	return TUIModel{EventsCh: ch, bar: progress.New(progress.WithDefaultGradient())}
}

func (m TUIModel) Init() tea.Cmd {
	return m.waitForEvent()
}

func (m TUIModel) ratio() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.done) / float64(m.total)
}

func (m TUIModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.EventsCh
		if !ok {
			return tea.Quit
		}
		return eventMsg(ev)
	}
}

func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		ev := scheduler.Event(msg)
		m.total = ev.Total
		name := ev.ModuleName
		switch ev.Kind {
		case scheduler.EventSucceeded:
			m.done++
			m.lastLines = append(m.lastLines, styleOK.Render("✓ "+name))
		case scheduler.EventFailed:
			m.done++
			m.failed++
			m.lastLines = append(m.lastLines, styleFail.Render(fmt.Sprintf("✗ %s: %v", name, ev.Err)))
		case scheduler.EventSkipped:
			m.done++
			m.lastLines = append(m.lastLines, styleDim.Render("· "+name+" (skipped)"))
		}
		if len(m.lastLines) > 20 {
			m.lastLines = m.lastLines[len(m.lastLines)-20:]
		}
		if m.total > 0 && m.done >= m.total {
			return m, tea.Quit
		}
		return m, m.waitForEvent()
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m TUIModel) View() string {
	header := fmt.Sprintf("%d/%d modules documented (%d failed)\n%s\n\n", m.done, m.total, m.failed, m.bar.ViewAs(m.ratio()))
	body := ""
	for _, line := range m.lastLines {
		body += line + "\n"
	}
	return header + body
}
