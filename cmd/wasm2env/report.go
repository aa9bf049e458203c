package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const rule = "---------------------------------------------------"

type reportStyles struct {
	title lipgloss.Style
	dim   lipgloss.Style
	count lipgloss.Style
	name  lipgloss.Style
	none  lipgloss.Style
}

// stylesFor returns colored styles for a terminal and unstyled ones
// otherwise.
func stylesFor(styled bool) reportStyles {
	if !styled {
		plain := lipgloss.NewStyle()
		return reportStyles{title: plain, dim: plain, count: plain, name: plain, none: plain}
	}
	return reportStyles{
		title: lipgloss.NewStyle().Bold(true),
		dim:   lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		count: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		name:  lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		none:  lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
	}
}

func writeReport(w io.Writer, path string, names []string, st reportStyles) {
	var b strings.Builder
	b.WriteString(st.title.Render("Analyzing WASM module for environment dependencies..."))
	b.WriteString("\n")
	fmt.Fprintf(&b, "File: %s\n", path)
	b.WriteString(st.dim.Render(rule))
	b.WriteString("\n\n")

	if len(names) == 0 {
		b.WriteString(st.none.Render("No environment variable dependencies detected."))
		b.WriteString("\n")
	} else {
		b.WriteString(st.count.Render(fmt.Sprintf("Required Environment Variables (%d):", len(names))))
		b.WriteString("\n\n")
		for i, n := range names {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, st.name.Render(n))
		}
		b.WriteString("\nConfigure these in wasmcloud before deployment.\n")
	}

	b.WriteString("\n")
	b.WriteString(st.dim.Render(rule))
	b.WriteString("\n")
	_, _ = io.WriteString(w, b.String())
}
