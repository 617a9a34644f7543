package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"labelflow/internal/domain"
)

var priorities = map[string]struct{}{"High": {}, "Medium": {}, "Low": {}}

const defaultPriority = "Medium"

// Details holds the submitter-editable metadata of a project. Nil fields are
// left untouched by ApplyDetails.
type Details struct {
	Name                *string
	Description         *string
	FileType            *string
	FileCount           *int
	TotalSize           *string
	Priority            *string
	Categories          []string
	Notes               *string
	EstimatedCompletion *string
	Accuracy            *float64
	CompletedTasks      *int
	TotalTasks          *int
}

// NewProject builds a freshly listed project owned by submitter.
func NewProject(id, submitter string, d Details, fileIDs []string, at time.Time) (domain.Project, error) {
	if strings.TrimSpace(submitter) == "" {
		return domain.Project{}, invalidInput("submitter required")
	}
	if d.Name == nil || strings.TrimSpace(*d.Name) == "" {
		return domain.Project{}, invalidInput("name required")
	}
	ts := at.UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:               id,
		Status:           string(StatusTaskListed),
		Progress:         0,
		Priority:         defaultPriority,
		Submitter:        submitter,
		Categories:       []string{},
		Labelers:         []string{},
		Validators:       []string{},
		FileIDs:          cleanIDs(fileIDs),
		LabelledFileIDs:  []string{},
		ValidatedFileIDs: []string{},
		CreatedAt:        ts,
		LastActivity:     ts,
		Version:          1,
	}
	if err := mergeDetails(&p, d); err != nil {
		return domain.Project{}, err
	}
	if p.FileCount == 0 {
		p.FileCount = len(p.FileIDs)
	}
	return p, nil
}

// ApplyDetails merges metadata edits. Lifecycle fields are never touched here.
func ApplyDetails(p domain.Project, actorID string, d Details, at time.Time) (domain.Project, error) {
	if err := requireSubmitter(p, actorID); err != nil {
		return domain.Project{}, err
	}
	if Status(p.Status).Terminal() {
		return domain.Project{}, fmt.Errorf("%w: completed projects are read-only", ErrInvalidTransition)
	}
	if d.Notes != nil && strings.Contains(p.Notes, validatorNotesTag) {
		// validator entries are append-only; the submitter may only extend them
		if !strings.HasPrefix(strings.TrimSpace(*d.Notes), p.Notes) {
			return domain.Project{}, invalidInput("notes carry validator entries and can only be appended to")
		}
	}
	next := p.Clone()
	if err := mergeDetails(&next, d); err != nil {
		return domain.Project{}, err
	}
	next.LastActivity = at.UTC().Format(time.RFC3339)
	return next, nil
}

func mergeDetails(p *domain.Project, d Details) error {
	if d.Name != nil {
		name := strings.TrimSpace(*d.Name)
		if name == "" {
			return invalidInput("name cannot be empty")
		}
		p.Name = name
	}
	if d.Priority != nil {
		if _, ok := priorities[*d.Priority]; !ok {
			return invalidInput("priority must be High, Medium or Low")
		}
		p.Priority = *d.Priority
	}
	for _, n := range []*int{d.FileCount, d.CompletedTasks, d.TotalTasks} {
		if n != nil && *n < 0 {
			return invalidInput("counts must be non-negative")
		}
	}
	if d.Accuracy != nil && (*d.Accuracy < 0 || *d.Accuracy > 100) {
		return invalidInput("accuracy must be between 0 and 100")
	}
	setString(&p.Description, d.Description)
	setString(&p.FileType, d.FileType)
	setString(&p.TotalSize, d.TotalSize)
	setString(&p.Notes, d.Notes)
	setString(&p.EstimatedCompletion, d.EstimatedCompletion)
	if d.FileCount != nil {
		p.FileCount = *d.FileCount
	}
	if d.CompletedTasks != nil {
		p.CompletedTasks = *d.CompletedTasks
	}
	if d.TotalTasks != nil {
		p.TotalTasks = *d.TotalTasks
	}
	if d.Accuracy != nil {
		p.Accuracy = *d.Accuracy
	}
	if d.Categories != nil {
		p.Categories = cleanIDs(d.Categories)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}
