package main

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/trimorphdev/cherry/diag"
	"github.com/trimorphdev/cherry/engine"
	"github.com/trimorphdev/cherry/heap"
	"github.com/trimorphdev/cherry/layout"
)

var (
	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA"))
)

const maxEvents = 8

type keyMap struct {
	Step key.Binding
	Run  key.Binding
	Next key.Binding
	Quit key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Step, k.Run, k.Next, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func defaultKeys() keyMap {
	return keyMap{
		Step: key.NewBinding(key.WithKeys("n", " ", "enter"), key.WithHelp("n/space", "step")),
		Run:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "run to end")),
		Next: key.NewBinding(key.WithKeys("s", "tab"), key.WithHelp("s", "next scenario")),
		Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type interactiveModel struct {
	err       error
	session   *session
	machine   *engine.Machine
	src       *source
	unsub     func()
	names     map[uint32]string
	scenarios []*scenario
	events    []string
	diags     string
	regions   table.Model
	help      help.Model
	keys      keyMap
	idx       int
	style     diag.DisplayStyle
	bypassed  bool
}

func newInteractiveModel(reg *heap.Registry, list []*scenario, style diag.DisplayStyle) *interactiveModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Addr", Width: 10},
			{Title: "Size", Width: 8},
			{Title: "Align", Width: 6},
			{Title: "Held by", Width: 12},
		}),
		table.WithHeight(8),
		table.WithFocused(true),
	)
	m := &interactiveModel{
		session:   &session{reg: reg, res: layout.NewResolver(nil)},
		scenarios: list,
		regions:   t,
		help:      help.New(),
		keys:      defaultKeys(),
		style:     style,
	}
	m.load(0)
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

// load checks scenario i and prepares a fresh machine for it.
func (m *interactiveModel) load(i int) {
	if m.unsub != nil {
		m.unsub()
	}
	m.idx = i
	m.err = nil
	m.events = nil
	m.bypassed = false
	m.names = make(map[uint32]string)

	var buf bytes.Buffer
	emitter := diag.NewEmitter(&buf, m.style)
	emitter.SetColor(true)
	m.session.sink = emitter

	sc := m.scenarios[i]
	machine, _, src, err := m.session.prepare(sc)
	m.machine, m.src, m.err = machine, src, err
	m.diags = buf.String()

	m.unsub = m.session.reg.Subscribe(heap.ObserverFunc(func(e heap.Event) {
		line := fmt.Sprintf("%-10s %s", e.Type, e.Region)
		if n, ok := m.names[e.Region.Addr]; ok {
			line += " (" + n + ")"
		}
		m.events = append(m.events, line)
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
	}))
	m.refresh()
}

func (m *interactiveModel) step() {
	if m.machine == nil || m.machine.Done() {
		return
	}
	sc := m.scenarios[m.idx]
	if sc.bypass != nil && !m.bypassed && m.machine.Depth() == 1 {
		if _, more := m.machine.Next(); !more {
			m.bypassed = true
			if err := sc.bypass(m.machine); err != nil {
				m.err = err
				return
			}
			m.events = append(m.events, "unchecked write through p")
			remember(m.machine, m.names)
			m.refresh()
			return
		}
	}
	if err := m.machine.Step(); err != nil {
		m.err = err
	}
	remember(m.machine, m.names)
	m.refresh()
}

func (m *interactiveModel) refresh() {
	var rows []table.Row
	for _, r := range m.session.reg.Regions() {
		rows = append(rows, table.Row{
			fmt.Sprintf("0x%x", r.Addr),
			strconv.FormatUint(uint64(r.Size), 10),
			strconv.FormatUint(uint64(r.Align), 10),
			m.names[r.Addr],
		})
	}
	m.regions.SetRows(rows)
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(k, m.keys.Quit):
			if m.unsub != nil {
				m.unsub()
			}
			return m, tea.Quit
		case key.Matches(k, m.keys.Step):
			m.step()
			return m, nil
		case key.Matches(k, m.keys.Run):
			for m.machine != nil && !m.machine.Done() && m.err == nil {
				m.step()
			}
			return m, nil
		case key.Matches(k, m.keys.Next):
			m.load((m.idx + 1) % len(m.scenarios))
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.regions, cmd = m.regions.Update(msg)
	return m, cmd
}

func (m *interactiveModel) View() string {
	sc := m.scenarios[m.idx]
	var b strings.Builder

	b.WriteString(titleStyle.Render("Heap Stepper"))
	b.WriteString(fmt.Sprintf(" %s: %s\n\n", sc.id, sc.title))

	current := 0
	if m.machine != nil {
		if s, ok := m.machine.Next(); ok {
			current = s.Position().Line
		}
	}
	for i, line := range m.src.lines {
		n := i + 1
		prefix := lineStyle.Render(fmt.Sprintf("%3d |", n))
		if n == current {
			b.WriteString(prefix + " " + cursorStyle.Render(line))
		} else {
			b.WriteString(prefix + " " + line)
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	switch {
	case m.diags != "":
		b.WriteString(m.diags)
		b.WriteString(errorStyle.Render("the checker refused this program; nothing runs"))
		b.WriteByte('\n')
	case m.machine != nil:
		if s, ok := m.machine.Next(); ok {
			b.WriteString("next: " + stmtLabel(s))
		} else if m.machine.Done() {
			b.WriteString(okStyle.Render("finished"))
		} else {
			b.WriteString("next: close scope")
		}
		b.WriteString("   " + stateStyle.Render(describe(m.machine)))
		b.WriteByte('\n')
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("error: " + m.err.Error()))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	b.WriteString(m.regions.View())
	b.WriteByte('\n')
	st := m.session.reg.Stats()
	b.WriteString(helpStyle.Render(fmt.Sprintf("%d live, %d bytes in use, peak %d", st.Live, st.InUse, st.Peak)))
	b.WriteString("\n\n")

	for _, e := range m.events {
		b.WriteString(eventStyle.Render(e))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(m.help.ShortHelpView(m.keys.ShortHelp()))
	return b.String()
}

func runInteractive(reg *heap.Registry, list []*scenario, style diag.DisplayStyle) error {
	p := tea.NewProgram(newInteractiveModel(reg, list, style), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
