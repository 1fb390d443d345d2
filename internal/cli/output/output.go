// Package output renders command results as styled text, markdown, JSON or
// YAML. Auto mode picks text on a terminal and markdown otherwise.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/termenv"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Mode is an output format.
type Mode string

// Output modes.
const (
	ModeAuto     Mode = "auto"
	ModeText     Mode = "text"
	ModeMarkdown Mode = "markdown"
	ModeJSON     Mode = "json"
	ModeYAML     Mode = "yaml"
)

// Modes lists the accepted --output values.
var Modes = []string{string(ModeAuto), string(ModeText), string(ModeMarkdown), string(ModeJSON), string(ModeYAML)}

// ParseMode validates s. The empty string is ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeText, ModeMarkdown, ModeJSON, ModeYAML:
		return Mode(s), nil
	case "md":
		return ModeMarkdown, nil
	}
	return "", fmt.Errorf("invalid output format %q (want one of %v)", s, Modes)
}

// Styles holds the text mode styles.
type Styles struct {
	Header  lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Code    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) *Styles {
	return &Styles{
		Header:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Bold:    r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
		Success: r.NewStyle().Foreground(lipgloss.Color("10")),
		Warning: r.NewStyle().Foreground(lipgloss.Color("11")),
		Error:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		Code:    r.NewStyle().Foreground(lipgloss.Color("14")),
	}
}

// Renderer writes command output.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	isTTY  bool
	mode   Mode
	styles *Styles
}

// NewRenderer creates a renderer, detecting whether out is a terminal.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
	}
	return NewRendererWithTTY(out, errOut, isTTY, mode)
}

// NewRendererWithTTY creates a renderer with explicit terminal state.
func NewRendererWithTTY(out, errOut io.Writer, isTTY bool, mode Mode) *Renderer {
	if mode == "" {
		mode = ModeAuto
	}
	profile := termenv.Ascii
	if isTTY {
		profile = termenv.ANSI256
	}
	lr := lipgloss.NewRenderer(out, termenv.WithTTY(isTTY), termenv.WithProfile(profile))
	lr.SetColorProfile(profile)
	return &Renderer{
		out:    out,
		errOut: errOut,
		isTTY:  isTTY,
		mode:   mode,
		styles: newStyles(lr),
	}
}

// Writer returns the output writer.
func (r *Renderer) Writer() io.Writer { return r.out }

// ErrWriter returns the diagnostics writer.
func (r *Renderer) ErrWriter() io.Writer { return r.errOut }

// IsTTY reports whether output goes to a terminal.
func (r *Renderer) IsTTY() bool { return r.isTTY }

// Styles returns the text mode styles.
func (r *Renderer) Styles() *Styles { return r.styles }

// EffectiveMode resolves ModeAuto.
func (r *Renderer) EffectiveMode() Mode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if r.isTTY {
		return ModeText
	}
	return ModeMarkdown
}

// Structured reports whether the effective mode is JSON or YAML.
func (r *Renderer) Structured() bool {
	m := r.EffectiveMode()
	return m == ModeJSON || m == ModeYAML
}

// Println writes a line.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Printf writes formatted output.
func (r *Renderer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// Header writes a section header.
func (r *Renderer) Header(title string) {
	if r.EffectiveMode() == ModeMarkdown {
		r.Println("## " + title)
		r.Println()
		return
	}
	r.Println(r.styles.Header.Render(title))
}

// Success writes a success line.
func (r *Renderer) Success(msg string) {
	r.Println(r.styles.Success.Render("✓ " + msg))
}

// Warning writes a warning line to the diagnostics writer.
func (r *Renderer) Warning(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Warning.Render("! "+msg))
}

// Error writes an error line to the diagnostics writer.
func (r *Renderer) Error(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Error.Render("✗ "+msg))
}

// Muted renders s in the muted style.
func (r *Renderer) Muted(s string) string { return r.styles.Muted.Render(s) }

// Code writes a block of code: fenced in markdown, highlighted in text.
func (r *Renderer) Code(lang, code string) {
	if r.EffectiveMode() == ModeMarkdown {
		r.Println("```" + lang)
		r.Println(code)
		r.Println("```")
		return
	}
	r.Println(r.styles.Code.Render(code))
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// YAML writes v as YAML.
func (r *Renderer) YAML(v any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// Structure writes v as JSON or YAML, following the effective mode.
func (r *Renderer) Structure(v any) error {
	if r.EffectiveMode() == ModeYAML {
		return r.YAML(v)
	}
	return r.JSON(v)
}

// Table writes rows under header: a markdown table in markdown mode, a
// box-drawn table otherwise.
func (r *Renderer) Table(header []string, rows [][]any) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)

	h := make(table.Row, len(header))
	for i, col := range header {
		h[i] = col
	}
	t.AppendHeader(h)
	for _, row := range rows {
		t.AppendRow(row)
	}

	if r.EffectiveMode() == ModeMarkdown {
		t.RenderMarkdown()
		return
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
