package domain

type Project struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Description         string    `json:"description,omitempty"`
	FileType            string    `json:"file_type,omitempty"`
	FileCount           int       `json:"file_count"`
	TotalSize           string    `json:"total_size,omitempty"`
	Priority            string    `json:"priority" enum:"High,Medium,Low"`
	Categories          []string  `json:"categories"`
	Notes               string    `json:"notes,omitempty"`
	Status              string    `json:"status"`
	Progress            int       `json:"progress" minimum:"0" maximum:"100"`
	Submitter           string    `json:"submitter"`
	Labelers            []string  `json:"labelers"`
	Validators          []string  `json:"validators"`
	FileIDs             []string  `json:"file_ids"`
	LabelledFileIDs     []string  `json:"labelled_file_ids"`
	ValidatedFileIDs    []string  `json:"validated_file_ids"`
	Accuracy            float64   `json:"accuracy"`
	CompletedTasks      int       `json:"completed_tasks"`
	TotalTasks          int       `json:"total_tasks"`
	EstimatedCompletion string    `json:"estimated_completion,omitempty"`
	Feedback            *Feedback `json:"feedback,omitempty"`
	CreatedAt           string    `json:"created_at" format:"date-time"`
	LastActivity        string    `json:"last_activity" format:"date-time"`
	Version             int64     `json:"version"`
}

// Clone returns a deep copy so rule evaluation never aliases stored slices.
func (p Project) Clone() Project {
	out := p
	out.Categories = cloneStrings(p.Categories)
	out.Labelers = cloneStrings(p.Labelers)
	out.Validators = cloneStrings(p.Validators)
	out.FileIDs = cloneStrings(p.FileIDs)
	out.LabelledFileIDs = cloneStrings(p.LabelledFileIDs)
	out.ValidatedFileIDs = cloneStrings(p.ValidatedFileIDs)
	if p.Feedback != nil {
		fb := p.Feedback.Clone()
		out.Feedback = &fb
	}
	return out
}

type FeedbackNote struct {
	Public  string `json:"public,omitempty"`
	Private string `json:"private,omitempty"`
}

type Feedback struct {
	Labeler   *FeedbackNote `json:"labeler,omitempty"`
	Validator *FeedbackNote `json:"validator,omitempty"`
	Complete  string        `json:"complete"`
}

func (f Feedback) Clone() Feedback {
	out := f
	if f.Labeler != nil {
		l := *f.Labeler
		out.Labeler = &l
	}
	if f.Validator != nil {
		v := *f.Validator
		out.Validator = &v
	}
	return out
}

type Task struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Text      string         `json:"text"`
	ImageKey  string         `json:"image_key"`
	Points    int            `json:"points" minimum:"0"`
	Example   TaskExample    `json:"example"`
	Responses []TaskResponse `json:"responses"`
	CreatedBy string         `json:"created_by"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
	Version   int64          `json:"version"`
}

type TaskExample struct {
	Description string `json:"description"`
	ImageKey    string `json:"image_key,omitempty"`
}

type TaskResponse struct {
	ReviewerID string `json:"user_id"`
	Verdict    bool   `json:"answer"`
	Reason     string `json:"reason"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at,omitempty" format:"date-time"`
}

type UserSocials struct {
	X        string `json:"x,omitempty"`
	Telegram string `json:"telegram,omitempty"`
}

type UserPreferences struct {
	Price    bool `json:"price"`
	Features bool `json:"features"`
	Security bool `json:"security"`
	Email    bool `json:"email"`
	Reward   bool `json:"reward"`
}

type User struct {
	ID            string          `json:"id"`
	Username      string          `json:"username" validate:"required,max=64"`
	WalletAddress string          `json:"wallet_address" validate:"required,max=128"`
	UserType      string          `json:"user_type" enum:"submitter,labeler,validator" validate:"required,oneof=submitter labeler validator"`
	Email         string          `json:"email,omitempty" validate:"omitempty,email"`
	Picture       string          `json:"picture,omitempty"`
	Preferences   UserPreferences `json:"preferences"`
	Socials       UserSocials     `json:"socials"`
	CreatedAt     string          `json:"created_at" format:"date-time"`
	UpdatedAt     string          `json:"updated_at" format:"date-time"`
	Version       int64           `json:"version"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind" enum:"project,task,user"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
