package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	dumpHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dumpMuted  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dumpCell   = lipgloss.NewStyle().Padding(0, 1)
)

// loopBlock names the loop body in the block column.
const loopBlock = "(loop)"

// programRows lists one row per resolved statement: service, block, step,
// statement and, for calls, the resolved target.
func programRows(reg *Registry) [][]string {
	var rows [][]string
	add := func(svc *Service, block string, body []Op) {
		if len(body) == 0 {
			rows = append(rows, []string{svc.Name, block, "-", "", ""})
			return
		}
		for i, op := range body {
			target := ""
			if op.Kind == OpCall {
				target = op.Target.SpanName()
			}
			rows = append(rows, []string{svc.Name, block, strconv.Itoa(i + 1), op.Source.String(), target})
		}
	}
	for _, svc := range reg.Services() {
		for _, m := range svc.Methods {
			add(svc, m.Name, m.Body)
		}
		if svc.HasLoop {
			add(svc, loopBlock, svc.Loop)
		}
	}
	return rows
}

// DumpProgram renders the resolved program as a table.
func DumpProgram(w io.Writer, reg *Registry) error {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dumpMuted).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return dumpHeader.Padding(0, 1)
			}
			return dumpCell
		}).
		Headers("SERVICE", "BLOCK", "STEP", "STATEMENT", "CALLS").
		Rows(programRows(reg)...)

	looping := len(reg.Looping())
	_, err := fmt.Fprintf(w, "%s\n%s\n", t.Render(),
		dumpMuted.Render(fmt.Sprintf("%d services, %d with a loop", len(reg.Services()), looping)))
	return err
}
