package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	dirStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
)

// styler renders text with lipgloss only when w is a terminal.
type styler struct {
	color bool
}

func stylerFor(w io.Writer) styler {
	f, ok := w.(*os.File)
	if !ok {
		return styler{}
	}
	return styler{color: isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())}
}

func (s styler) render(style lipgloss.Style, text string) string {
	if !s.color {
		return text
	}
	return style.Render(text)
}

func (s styler) heading(text string) string { return s.render(headingStyle, text) }
func (s styler) label(text string) string   { return s.render(labelStyle, text) }
func (s styler) dir(text string) string     { return s.render(dirStyle, text) }
