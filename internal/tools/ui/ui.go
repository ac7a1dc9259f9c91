// Package ui renders operator tool output for a terminal.
package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	detailStyle = lipgloss.NewStyle().PaddingLeft(2)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

// Row is one key/value line of a Table.
type Row struct {
	Key   string
	Value string
}

// Run executes fn with a five minute budget and prints its details and
// outcome to stdout.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	fmt.Fprintln(os.Stdout, titleStyle.Render(title))
	start := time.Now()
	details, err := fn(ctx)
	Report(os.Stdout, details, err, time.Since(start))
	return details, err
}

func Report(w io.Writer, details []string, err error, elapsed time.Duration) {
	for _, d := range details {
		fmt.Fprintln(w, detailStyle.Render("• "+d))
	}
	if err != nil {
		fmt.Fprintln(w, failStyle.Render("FAIL")+" "+err.Error())
		return
	}
	fmt.Fprintln(w, okStyle.Render("OK")+" "+keyStyle.Render(elapsed.Round(time.Millisecond).String()))
}

// Table renders rows in a bordered box with aligned keys.
func Table(title string, rows []Row) string {
	width := 0
	for _, r := range rows {
		if len(r.Key) > width {
			width = len(r.Key)
		}
	}
	lines := make([]string, 0, len(rows)+1)
	if title != "" {
		lines = append(lines, titleStyle.Render(title))
	}
	for _, r := range rows {
		key := keyStyle.Render(r.Key + strings.Repeat(" ", width-len(r.Key)))
		lines = append(lines, key+"  "+r.Value)
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func Failure(msg string) string { return failStyle.Render(msg) }

func Success(msg string) string { return okStyle.Render(msg) }
