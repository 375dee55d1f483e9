// Package tui shows a spinner while a blocking step runs.
package tui

import (
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"coda/internal/ui"
)

// Task is the blocking step run under the spinner.
type Task func() error

type doneMsg struct{ err error }

// Model drives one spinner-wrapped task.
type Model struct {
	label   string
	task    Task
	spinner spinner.Model
	err     error
	done    bool
}

func New(label string, task Task) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{label: label, task: task, spinner: s}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.run)
}

func (m Model) run() tea.Msg {
	return doneMsg{err: m.task()}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case doneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit

	default:
		var cmd tea.Cmd
		if !m.done {
			m.spinner, cmd = m.spinner.Update(msg)
		}
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s %s", m.spinner.View(), m.label)
}

// Run executes task, showing label under a spinner when stdout is a
// terminal. Off a terminal the task runs directly.
func Run(label string, task Task) error {
	if !ui.IsTerminal(os.Stdout) {
		return task()
	}
	final, err := tea.NewProgram(New(label, task)).Run()
	if err != nil {
		return err
	}
	return final.(Model).err
}
