package main

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

const (
	sgrBold  = "\x1b[1m"
	sgrReset = "\x1b[0m"
)

type table struct {
	header []string
	rows   [][]string
}

func newTable(header ...string) *table {
	return &table{header: header}
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// render lays the table out in columns. Widths are measured on screen, so
// styled cells line up with plain ones.
func (t *table) render(styled bool) string {
	header := t.header
	if styled {
		header = make([]string, len(t.header))
		for i, h := range t.header {
			header[i] = sgrBold + h + sgrReset
		}
	}
	lines := append([][]string{header}, t.rows...)

	widths := make([]int, len(t.header))
	for _, line := range lines {
		for i, cell := range line {
			if i < len(widths) {
				widths[i] = max(widths[i], ansi.StringWidth(cell))
			}
		}
	}

	var sb strings.Builder
	for _, line := range lines {
		for i, cell := range line {
			sb.WriteString(cell)
			if i == len(line)-1 {
				break
			}
			if i < len(widths) {
				sb.WriteString(strings.Repeat(" ", widths[i]-ansi.StringWidth(cell)+2))
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (t *table) write(f *os.File) error {
	_, err := io.WriteString(f, t.render(isTerminal(f)))
	return err
}
