package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/vfd/descriptor"
)

const historyLimit = 8

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB")).
			Padding(0, 1)

	socketStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98")).
			Padding(0, 1)

	fileStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD580")).
			Padding(0, 1)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type historyEntry struct {
	err    error
	input  string
	output string
}

type interactiveModel struct {
	reg     *descriptor.Registry
	history []historyEntry
	input   textinput.Model
}

func newInteractiveModel(reg *descriptor.Registry) *interactiveModel {
	ti := textinput.New()
	ti.Placeholder = "socket 0x10; fd 7; lookup 3"
	ti.Prompt = "vfd> "
	ti.Width = 60
	ti.Focus()

	return &interactiveModel{
		reg:   reg,
		input: ti,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "quit" || line == "exit" {
				return m, tea.Quit
			}
			if line != "" {
				m.submit(line)
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit runs every command on the line and records one history entry for it.
func (m *interactiveModel) submit(line string) {
	entry := historyEntry{input: line}

	cmds, err := parseScript(line)
	if err != nil {
		entry.err = err
		m.record(entry)
		return
	}

	var out []string
	for _, cmd := range cmds {
		// The table is always on screen.
		if cmd.name == "table" {
			continue
		}
		res, err := execute(m.reg, cmd)
		if err != nil {
			entry.err = fmt.Errorf("%s: %w", cmd.name, err)
			break
		}
		out = append(out, res)
	}
	entry.output = strings.Join(out, "\n")
	m.record(entry)
}

func (m *interactiveModel) record(e historyEntry) {
	m.history = append(m.history, e)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Descriptor Registry"))
	b.WriteString(fmt.Sprintf(" %d live, %d free, next %d\n\n", m.reg.Len(), m.reg.Free(), m.reg.Next()))

	entries := m.reg.Snapshot()
	if len(entries) == 0 {
		b.WriteString(helpStyle.Render("no live descriptors"))
	} else {
		b.WriteString(renderTable(entries, tableStyle(entries)))
	}
	b.WriteString("\n\n")

	for _, h := range m.history {
		b.WriteString(helpStyle.Render("> " + h.input))
		b.WriteString("\n")
		if h.output != "" {
			b.WriteString(resultStyle.Render(h.output))
			b.WriteString("\n")
		}
		if h.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", h.err)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")
	b.WriteString(helpStyle.Render("socket unsocket release fd unfd lookup info flags verify • enter run • esc quit"))

	return b.String()
}

// tableStyle colours rows by descriptor kind.
func tableStyle(entries []descriptor.Entry) func(row, col int) lipgloss.Style {
	return func(row, _ int) lipgloss.Style {
		if row < 0 || row >= len(entries) {
			return headerStyle
		}
		if entries[row].Kind == descriptor.KindSocket {
			return socketStyle
		}
		return fileStyle
	}
}

func runInteractive(reg *descriptor.Registry) error {
	p := tea.NewProgram(newInteractiveModel(reg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
