// Package export renders projects and their audit trail as an xlsx workbook.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"labelflow/internal/domain"
)

const (
	ProjectsSheet = "Projects"
	EventsSheet   = "Events"
)

var projectHeaders = []string{
	"ID", "Name", "Status", "Progress", "Priority", "Submitter",
	"Labelers", "Validators", "Files", "Labelled", "Validated",
	"Accuracy", "Completed Tasks", "Total Tasks", "Created", "Last Activity", "Version",
}

var eventHeaders = []string{"ID", "Time", "Type", "Project", "Entity", "Entity ID", "Actor", "Payload"}

// Workbook writes one row per project and, when evts is non-empty, an Events
// sheet with the audit rows.
func Workbook(w io.Writer, projects []domain.Project, evts []domain.Event) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(ProjectsSheet)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := writeHeader(f, ProjectsSheet, projectHeaders); err != nil {
		return err
	}
	for i, p := range projects {
		row := []any{
			p.ID,
			p.Name,
			p.Status,
			p.Progress,
			p.Priority,
			p.Submitter,
			strings.Join(p.Labelers, ", "),
			strings.Join(p.Validators, ", "),
			len(p.FileIDs),
			len(p.LabelledFileIDs),
			len(p.ValidatedFileIDs),
			p.Accuracy,
			p.CompletedTasks,
			p.TotalTasks,
			p.CreatedAt,
			p.LastActivity,
			p.Version,
		}
		if err := writeRow(f, ProjectsSheet, i+2, row); err != nil {
			return err
		}
	}

	if len(evts) > 0 {
		if _, err := f.NewSheet(EventsSheet); err != nil {
			return fmt.Errorf("create sheet: %w", err)
		}
		if err := writeHeader(f, EventsSheet, eventHeaders); err != nil {
			return err
		}
		for i, evt := range evts {
			row := []any{evt.ID, evt.TS, evt.Type, evt.ProjectID, evt.EntityKind, evt.EntityID, evt.ActorID, evt.Payload}
			if err := writeRow(f, EventsSheet, i+2, row); err != nil {
				return err
			}
		}
	}

	if f.GetSheetName(0) != ProjectsSheet {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return err
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) error {
	row := make([]any, len(headers))
	for i, h := range headers {
		row[i] = h
	}
	if err := writeRow(f, sheet, 1, row); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6E6FA"}, Pattern: 1},
	})
	if err == nil {
		f.SetRowStyle(sheet, 1, 1, style)
	}
	last, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return err
	}
	return f.SetColWidth(sheet, "A", last, 18)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
