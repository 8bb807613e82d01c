package diag

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/trimorphdev/cherry/ir"
)

// DisplayStyle selects how much of a diagnostic is printed.
type DisplayStyle uint8

const (
	// Rich prints the header, location, source snippet and notes.
	Rich DisplayStyle = iota
	// Medium prints the header, location and notes.
	Medium
	// Short prints a single line.
	Short
)

func (s DisplayStyle) String() string {
	switch s {
	case Rich:
		return "rich"
	case Medium:
		return "medium"
	case Short:
		return "short"
	}
	return "unknown"
}

// ParseStyle parses a display style name, ignoring case.
func ParseStyle(s string) (DisplayStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich":
		return Rich, nil
	case "medium":
		return Medium, nil
	case "short":
		return Short, nil
	}
	return Rich, fmt.Errorf("invalid diagnostic style %q, options: rich, medium, short", s)
}

// Theme holds the styles used when color is enabled.
type Theme struct {
	Error      lipgloss.Style
	Warning    lipgloss.Style
	Note       lipgloss.Style
	Message    lipgloss.Style
	LineNumber lipgloss.Style
	TabWidth   int
}

// DefaultTheme mirrors rustc: bold intense red, yellow and blue headers and
// blue gutters.
func DefaultTheme() Theme {
	blue := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	return Theme{
		Error:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Warning:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		Note:       blue,
		Message:    lipgloss.NewStyle().Bold(true),
		LineNumber: blue,
		TabWidth:   4,
	}
}

// Emitter renders diagnostics to a writer. It implements Sink.
type Emitter struct {
	w       io.Writer
	sources map[string][]string
	theme   Theme
	style   DisplayStyle
	color   bool
	mu      sync.Mutex
}

// NewEmitter renders to w in style. Color is enabled when w is a terminal.
func NewEmitter(w io.Writer, style DisplayStyle) *Emitter {
	color := false
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Emitter{
		w:       w,
		sources: make(map[string][]string),
		theme:   DefaultTheme(),
		style:   style,
		color:   color,
	}
}

// SetColor forces color on or off.
func (e *Emitter) SetColor(on bool) { e.color = on }

// SetTheme replaces the styles.
func (e *Emitter) SetTheme(t Theme) { e.theme = t }

// AddSource registers file contents for rich snippets.
func (e *Emitter) AddSource(file, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[file] = strings.Split(text, "\n")
}

// Report writes d, ignoring write errors.
func (e *Emitter) Report(d Diagnostic) {
	_ = e.Emit(d)
}

// Emit writes d.
func (e *Emitter) Emit(d Diagnostic) error {
	out := e.Render(d)
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := io.WriteString(e.w, out)
	return err
}

// Summary writes the closing line for a run with errors.
func (e *Emitter) Summary(errors, warnings int) error {
	if errors == 0 && warnings == 0 {
		return nil
	}
	var b strings.Builder
	if errors > 0 {
		b.WriteString(e.paint(e.theme.Error, "error"))
		b.WriteString(e.paint(e.theme.Message, fmt.Sprintf(": aborting due to %d error(s)", errors)))
	} else {
		b.WriteString(e.paint(e.theme.Warning, "warning"))
		b.WriteString(e.paint(e.theme.Message, fmt.Sprintf(": %d warning(s) emitted", warnings)))
	}
	b.WriteByte('\n')
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := io.WriteString(e.w, b.String())
	return err
}

// Render formats d without writing it.
func (e *Emitter) Render(d Diagnostic) string {
	var b strings.Builder
	header := e.header(d)

	if e.style == Short {
		b.WriteString(d.Pos.String())
		b.WriteString(": ")
		b.WriteString(header)
		b.WriteByte('\n')
		return b.String()
	}

	b.WriteString(header)
	b.WriteByte('\n')

	lineNo := strconv.Itoa(d.Pos.Line)
	gutter := strings.Repeat(" ", len(lineNo))
	bar := e.paint(e.theme.LineNumber, gutter+" |")

	b.WriteString(gutter)
	b.WriteString(e.paint(e.theme.LineNumber, "--> "))
	b.WriteString(d.Pos.String())
	b.WriteByte('\n')

	if e.style == Rich {
		if line, ok := e.line(d.Pos); ok {
			b.WriteString(bar)
			b.WriteByte('\n')
			b.WriteString(e.paint(e.theme.LineNumber, lineNo+" |"))
			b.WriteByte(' ')
			b.WriteString(e.expand(line))
			b.WriteByte('\n')

			b.WriteString(bar)
			b.WriteByte(' ')
			b.WriteString(strings.Repeat(" ", e.column(line, d.Pos.Col)))
			caret := "^"
			if d.Label != "" {
				caret += " " + d.Label
			}
			b.WriteString(e.paint(e.severityStyle(d.Severity), caret))
			b.WriteByte('\n')
		}
	}

	if len(d.Notes) > 0 {
		if e.style == Rich {
			b.WriteString(bar)
			b.WriteByte('\n')
		}
		for _, n := range d.Notes {
			b.WriteString(gutter)
			b.WriteString(e.paint(e.theme.LineNumber, " = "))
			b.WriteString("note: ")
			b.WriteString(n)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (e *Emitter) header(d Diagnostic) string {
	sev := d.Severity.String()
	if d.Code != "" {
		sev += "[" + string(d.Code) + "]"
	}
	return e.paint(e.severityStyle(d.Severity), sev) + e.paint(e.theme.Message, ": "+d.Message)
}

func (e *Emitter) severityStyle(s Severity) lipgloss.Style {
	switch s {
	case SeverityWarning:
		return e.theme.Warning
	case SeverityNote:
		return e.theme.Note
	default:
		return e.theme.Error
	}
}

func (e *Emitter) paint(s lipgloss.Style, text string) string {
	if !e.color {
		return text
	}
	return s.Render(text)
}

func (e *Emitter) line(p ir.Pos) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lines, ok := e.sources[p.File]
	if !ok || p.Line < 1 || p.Line > len(lines) {
		return "", false
	}
	return strings.TrimRight(lines[p.Line-1], "\r"), true
}

func (e *Emitter) expand(line string) string {
	return strings.ReplaceAll(line, "\t", strings.Repeat(" ", e.tabWidth()))
}

// column converts a 1-based rune column into a display offset.
func (e *Emitter) column(line string, col int) int {
	width := 0
	i := 1
	for _, r := range line {
		if i >= col {
			break
		}
		if r == '\t' {
			width += e.tabWidth()
		} else {
			width++
		}
		i++
	}
	return width
}

func (e *Emitter) tabWidth() int {
	if e.theme.TabWidth <= 0 {
		return 4
	}
	return e.theme.TabWidth
}
