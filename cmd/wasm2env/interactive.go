package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm2env/scanner"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	rejectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const pageSize = 15

type browserState int

const (
	stateList browserState = iota
	stateDetail
)

type browserModel struct {
	filename     string
	report       *scanner.Report
	filter       textinput.Model
	visible      []int // indices into report.Candidates
	selected     int
	offset       int
	showRejected bool
	state        browserState
}

func newBrowserModel(filename string, rep *scanner.Report) *browserModel {
	ti := textinput.New()
	ti.Placeholder = "filter"
	ti.Prompt = "/ "
	ti.Width = 40
	ti.Focus()

	m := &browserModel{filename: filename, report: rep, filter: ti}
	m.refilter()
	return m
}

func (m *browserModel) Init() tea.Cmd {
	return textinput.Blink
}

// refilter recomputes the visible candidates from the filter text and the
// rejected toggle, keeping the cursor in range.
func (m *browserModel) refilter() {
	q := strings.ToLower(m.filter.Value())
	m.visible = m.visible[:0]
	for i, c := range m.report.Candidates {
		if !c.Accepted && !m.showRejected {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(c.Value), q) &&
			!strings.Contains(strings.ToLower(c.Caller), q) &&
			!strings.Contains(strings.ToLower(c.Callee), q) {
			continue
		}
		m.visible = append(m.visible, i)
	}
	if m.selected >= len(m.visible) {
		m.selected = max(len(m.visible)-1, 0)
	}
	m.scroll()
}

func (m *browserModel) scroll() {
	if m.selected < m.offset {
		m.offset = m.selected
	}
	if m.selected >= m.offset+pageSize {
		m.offset = m.selected - pageSize + 1
	}
}

func (m *browserModel) current() (scanner.Candidate, bool) {
	if m.selected < 0 || m.selected >= len(m.visible) {
		return scanner.Candidate{}, false
	}
	return m.report.Candidates[m.visible[m.selected]], true
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "up":
			if m.state == stateList && m.selected > 0 {
				m.selected--
				m.scroll()
			}
			return m, nil

		case "down":
			if m.state == stateList && m.selected < len(m.visible)-1 {
				m.selected++
				m.scroll()
			}
			return m, nil

		case "tab":
			m.showRejected = !m.showRejected
			m.refilter()
			return m, nil

		case "enter":
			switch m.state {
			case stateList:
				if _, ok := m.current(); ok {
					m.state = stateDetail
				}
			case stateDetail:
				m.state = stateList
			}
			return m, nil

		case "esc":
			if m.state == stateDetail {
				m.state = stateList
				return m, nil
			}
			return m, tea.Quit
		}
	}

	if m.state != stateList {
		return m, nil
	}
	var cmd tea.Cmd
	before := m.filter.Value()
	m.filter, cmd = m.filter.Update(msg)
	if m.filter.Value() != before {
		m.refilter()
	}
	return m, cmd
}

func (m *browserModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("wasm2env"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n")
	st := m.report.Stats
	b.WriteString(helpStyle.Render(fmt.Sprintf("%d names, %d candidates, %d call sites in %d functions",
		st.Names, st.Candidates, st.CallSites, st.Functions)))
	b.WriteString("\n\n")

	switch m.state {
	case stateList:
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")
		if len(m.visible) == 0 {
			b.WriteString(helpStyle.Render("no candidates"))
			b.WriteString("\n")
		}
		end := min(m.offset+pageSize, len(m.visible))
		for i := m.offset; i < end; i++ {
			line := m.formatCandidate(m.report.Candidates[m.visible[i]])
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		toggle := "tab show rejected"
		if m.showRejected {
			toggle = "tab hide rejected"
		}
		b.WriteString(helpStyle.Render("↑/↓ select • enter details • " + toggle + " • esc quit"))

	case stateDetail:
		c, _ := m.current()
		b.WriteString(m.formatDetail(c))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter/esc back • ctrl+c quit"))
	}

	return b.String()
}

func (m *browserModel) formatCandidate(c scanner.Candidate) string {
	value := nameStyle.Render(c.Value)
	if !c.Accepted {
		value = rejectedStyle.Render(c.Value + " (" + c.Reason + ")")
	}
	return value + "  " + funcStyle.Render(c.Caller) + " → " + funcStyle.Render(c.Callee)
}

func (m *browserModel) formatDetail(c scanner.Candidate) string {
	verdict := nameStyle.Render("accepted")
	if !c.Accepted {
		verdict = rejectedStyle.Render("rejected: " + c.Reason)
	}
	rows := [][2]string{
		{"value", fmt.Sprintf("%q", c.Value)},
		{"verdict", verdict},
		{"caller", fmt.Sprintf("%s (func %d)", c.Caller, c.CallerIdx)},
		{"callee", c.Callee},
		{"call site", fmt.Sprintf("0x%x", c.Offset)},
		{"argument", fmt.Sprintf("%d", c.Arg)},
		{"address", fmt.Sprintf("0x%x", c.Addr)},
		{"recovered as", c.Path},
		{"module", fmt.Sprintf("%d", c.Module)},
	}
	if c.Direct {
		rows[3][1] = fmt.Sprintf("%s (func %d)", c.Callee, c.CalleeIdx)
	}
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%-14s %s\n", r[0], r[1])
	}
	return b.String()
}

func runInteractive(filename string, rep *scanner.Report) error {
	p := tea.NewProgram(newBrowserModel(filename, rep), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
