package export

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"

	"labelflow/internal/domain"
)

func TestWorkbookRoundTrip(t *testing.T) {
	projects := []domain.Project{
		{
			ID:         "p1",
			Name:       "Street signs",
			Status:     "Labeling Started",
			Progress:   10,
			Priority:   "High",
			Submitter:  "sub",
			Labelers:   []string{"lab-a", "lab-b"},
			FileIDs:    []string{"f1", "f2", "f3"},
			CreatedAt:  "2024-01-01T00:00:00Z",
			Version:    2,
			Validators: []string{},
		},
	}
	evts := []domain.Event{
		{ID: 1, TS: "2024-01-01T00:00:00Z", Type: "project.create", ProjectID: "p1", EntityKind: "project", EntityID: "p1", ActorID: "sub", Payload: "{}"},
	}

	var buf bytes.Buffer
	if err := Workbook(&buf, projects, evts); err != nil {
		t.Fatalf("workbook: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if got := f.GetSheetList(); len(got) != 2 || got[0] != ProjectsSheet || got[1] != EventsSheet {
		t.Fatalf("unexpected sheets %v", got)
	}
	rows, err := f.GetRows(ProjectsSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header plus one row, got %d", len(rows))
	}
	if rows[0][0] != "ID" || rows[1][1] != "Street signs" || rows[1][2] != "Labeling Started" {
		t.Fatalf("unexpected project row %v", rows[1])
	}
	if rows[1][6] != "lab-a, lab-b" || rows[1][8] != "3" {
		t.Fatalf("unexpected assignment columns %v", rows[1])
	}
	evRows, err := f.GetRows(EventsSheet)
	if err != nil {
		t.Fatalf("event rows: %v", err)
	}
	if len(evRows) != 2 || evRows[1][2] != "project.create" {
		t.Fatalf("unexpected event rows %v", evRows)
	}
}

func TestWorkbookWithoutEvents(t *testing.T) {
	var buf bytes.Buffer
	if err := Workbook(&buf, nil, nil); err != nil {
		t.Fatalf("workbook: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if got := f.GetSheetList(); len(got) != 1 || got[0] != ProjectsSheet {
		t.Fatalf("unexpected sheets %v", got)
	}
}
