package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	accentColor = lipgloss.Color("#FFA500")
	errorColor  = lipgloss.Color("#A40000")
	mutedColor  = lipgloss.Color("#888888")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor)

	keyStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	valueStyle = lipgloss.NewStyle().
			Bold(true)
)

func printTitle(w io.Writer, title string) {
	fmt.Fprintln(w, titleStyle.Render(title))
}

func printKeyValue(w io.Writer, key, value string) {
	fmt.Fprintf(w, "%s %s\n", keyStyle.Render(key+":"), valueStyle.Render(value))
}

func printError(w io.Writer, message string) {
	fmt.Fprintf(w, "%s %s\n", errorStyle.Render("Error:"), message)
}
