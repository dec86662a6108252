package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	micropython "github.com/vanminh0910/micropython"
	"github.com/vanminh0910/micropython/mpy"
	"github.com/vanminh0910/micropython/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	codeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	detailStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// codeEntry is one code object in the flattened tree, pre-rendered for
// the list view.
type codeEntry struct {
	rc      *runtime.RawCode
	label   string
	depth   int
	prelude mpy.Prelude
	opOff   int
}

type browserModel struct {
	err      error
	filename string
	host     micropython.Host
	res      *micropython.Result
	entries  []codeEntry
	native   string
	selected int
	state    browserState
	saveTo   textinput.Model
	status   string
}

type browserState int

const (
	stateBrowse browserState = iota
	stateDetail
	stateSavePrompt
)

func newBrowserModel(filename string, host micropython.Host) *browserModel {
	ti := textinput.New()
	ti.Placeholder = "out.mpy"
	ti.Prompt = "Save to: "
	ti.Width = 40
	return &browserModel{filename: filename, host: host, saveTo: ti}
}

type loadedMsg struct {
	err    error
	res    *micropython.Result
	native string
}

type savedMsg struct {
	err  error
	path string
}

func (m *browserModel) Init() tea.Cmd {
	return m.loadContainer
}

func (m *browserModel) loadContainer() tea.Msg {
	res, err := micropython.LoadFile(m.filename, m.host)
	if err != nil {
		return loadedMsg{err: err}
	}
	if res.Native != nil {
		c := res.Native
		summary := fmt.Sprintf("native blob: %d code bytes at %#x, entry %#x",
			c.Code.Len, c.Code.Final, c.Entry())
		return loadedMsg{res: res, native: summary}
	}
	return loadedMsg{res: res}
}

// flatten walks the code-object tree depth first, mirroring container
// order.
func flatten(rc *runtime.RawCode, depth int, out []codeEntry) []codeEntry {
	prelude, _, opOff, err := mpy.ExtractPrelude(rc.Bytecode)
	label := fmt.Sprintf("code: %d bytes, %d consts", len(rc.Bytecode), len(rc.Consts))
	if err != nil {
		label = "code: bad prelude"
	}
	out = append(out, codeEntry{rc: rc, label: label, depth: depth, prelude: prelude, opOff: opOff})
	for _, v := range rc.Consts {
		if nested, ok := v.(*runtime.RawCode); ok {
			out = flatten(nested, depth+1, out)
		}
	}
	return out
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateSavePrompt {
			switch msg.String() {
			case "enter":
				return m, m.save
			case "esc":
				m.state = stateBrowse
				return m, nil
			}
			var cmd tea.Cmd
			m.saveTo, cmd = m.saveTo.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c", "q":
			if m.res != nil {
				m.res.Close()
			}
			return m, tea.Quit

		case "up", "k":
			if m.state == stateBrowse && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateBrowse && m.selected < len(m.entries)-1 {
				m.selected++
			}

		case "enter":
			if m.state == stateBrowse && len(m.entries) > 0 {
				m.state = stateDetail
			}

		case "s":
			if m.res != nil && m.res.Native == nil {
				m.state = stateSavePrompt
				m.saveTo.SetValue("")
				m.saveTo.Focus()
			}

		case "esc":
			if m.state == stateDetail {
				m.state = stateBrowse
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.res = msg.res
		m.native = msg.native
		if m.res.Native == nil {
			m.entries = flatten(m.res.Raw, 0, nil)
		}

	case savedMsg:
		m.state = stateBrowse
		if msg.err != nil {
			m.status = errorStyle.Render(fmt.Sprintf("save failed: %v", msg.err))
		} else {
			m.status = okStyle.Render("saved to " + msg.path)
		}
	}

	return m, nil
}

func (m *browserModel) save() tea.Msg {
	path := m.saveTo.Value()
	if path == "" {
		return savedMsg{err: fmt.Errorf("empty path")}
	}
	sd, ok := m.host.Interner.(runtime.StringData)
	if !ok {
		return savedMsg{err: fmt.Errorf("intern table cannot render strings")}
	}
	if err := micropython.SaveFile(path, m.res.Raw, m.host, sd); err != nil {
		return savedMsg{err: err}
	}
	return savedMsg{path: path}
}

func (m *browserModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.res == nil {
		return "Loading container..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("mpytool"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	if m.res.Native != nil {
		b.WriteString(codeStyle.Render(m.native))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("q quit"))
		return b.String()
	}

	switch m.state {
	case stateBrowse:
		b.WriteString("Code objects:\n\n")
		for i, e := range m.entries {
			line := strings.Repeat("  ", e.depth) + codeStyle.Render(e.label)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> ") + line)
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		if m.status != "" {
			b.WriteString("\n")
			b.WriteString(m.status)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter inspect • s save • q quit"))

	case stateDetail:
		e := m.entries[m.selected]
		b.WriteString(codeStyle.Render(e.label))
		b.WriteString("\n\n")
		b.WriteString(detailStyle.Render(fmt.Sprintf(
			"n_state %d  n_exc_stack %d  scope %#02x  args %d",
			e.prelude.NState, e.prelude.NExcStack, e.prelude.ScopeFlags, e.prelude.NArgs())))
		b.WriteString("\n\nInstructions:\n")
		for _, ins := range decodeInstructions(e.rc.Bytecode, e.opOff) {
			b.WriteString("  " + ins.String() + "\n")
		}
		if len(e.rc.Consts) > 0 {
			b.WriteString("\nConstants:\n")
			for i, v := range e.rc.Consts {
				b.WriteString(fmt.Sprintf("  [%d] %s\n", i, detailStyle.Render(renderValue(v))))
			}
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("esc back • q quit"))

	case stateSavePrompt:
		b.WriteString(m.saveTo.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter save • esc cancel"))
	}

	return b.String()
}

func runInteractive(filename string, host micropython.Host) error {
	p := tea.NewProgram(newBrowserModel(filename, host), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
