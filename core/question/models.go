package question

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// Question types
const (
	TypeMCQ       = "mcq"
	TypeTrueFalse = "true_false"
	TypeShort     = "short"
	TypeLong      = "long"
)

const mcqOptionCount = 4

var AllTypes = []string{TypeMCQ, TypeTrueFalse, TypeShort, TypeLong}

type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type Question struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Type      string   `json:"type"`
	Subject   string   `json:"subject"`
	Class     int      `json:"class"`
	Chapter   int      `json:"chapter"`
	Options   []Option `json:"options,omitempty"`
	CreatedBy string   `json:"created_by"`
	IsActive  bool     `json:"is_active"`

	TimesUsed       int `json:"times_used"`
	CorrectAttempts int `json:"correct_attempts"`
	TotalAttempts   int `json:"total_attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasOptions reports whether this question's type carries an options array.
func (q *Question) HasOptions() bool {
	return q.Type == TypeMCQ || q.Type == TypeTrueFalse
}

// SuccessRate returns the percentage of correct attempts, 0 when unattempted.
func (q *Question) SuccessRate() float64 {
	if q.TotalAttempts == 0 {
		return 0
	}
	return float64(q.CorrectAttempts) / float64(q.TotalAttempts) * 100
}

var (
	errOptionCount     = errors.New("mcq questions require exactly 4 options")
	errOptionText      = errors.New("option text cannot be empty")
	errOneCorrect      = errors.New("exactly one option must be marked correct")
	errTrueFalseTexts  = errors.New("true/false questions require exactly the options \"True\" and \"False\"")
	errOptionsRequired = errors.New("options are required for this question type")
)

// validateOptions enforces the per-type option invariants. Types without an
// options array accept anything here, the caller drops the options instead.
func validateOptions(qType string, options []Option) error {
	switch qType {
	case TypeMCQ:
		if len(options) != mcqOptionCount {
			return core.NewValidationError(nil, core.FieldError{Field: "options", Error: errOptionCount.Error()})
		}
		var correct int
		for _, opt := range options {
			if strings.TrimSpace(opt.Text) == "" {
				return core.NewValidationError(nil, core.FieldError{Field: "options", Error: errOptionText.Error()})
			}
			if opt.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			return core.NewValidationError(nil, core.FieldError{Field: "options", Error: errOneCorrect.Error()})
		}
	case TypeTrueFalse:
		if len(options) != 2 {
			return core.NewValidationError(nil, core.FieldError{Field: "options", Error: errTrueFalseTexts.Error()})
		}
		var correct, seenTrue, seenFalse int
		for _, opt := range options {
			switch strings.ToLower(strings.TrimSpace(opt.Text)) {
			case "true":
				seenTrue++
			case "false":
				seenFalse++
			}
			if opt.IsCorrect {
				correct++
			}
		}
		if seenTrue != 1 || seenFalse != 1 {
			return core.NewValidationError(nil, core.FieldError{Field: "options", Error: errTrueFalseTexts.Error()})
		}
		if correct != 1 {
			return core.NewValidationError(nil, core.FieldError{Field: "options", Error: errOneCorrect.Error()})
		}
	}
	return nil
}

type NewQuestion struct {
	Text    string   `json:"text" validate:"required"`
	Type    string   `json:"type" validate:"required,qtype"`
	Subject string   `json:"subject" validate:"required"`
	Class   int      `json:"class" validate:"required,min=1,max=12"`
	Chapter int      `json:"chapter" validate:"required,min=1"`
	Options []Option `json:"options"`
}

func (nq *NewQuestion) Validate() error {
	nq.Text = core.CleanString(nq.Text)
	nq.Type = core.CleanString(nq.Type, true)
	nq.Subject = core.CleanString(nq.Subject)

	if err := core.Validate.Struct(nq); err != nil {
		return err
	}
	return validateOptions(nq.Type, nq.Options)
}

// UpdateQuestion is a merge patch, zero values leave fields unchanged.
// Changing Type to an option-bearing type requires Options in the same patch.
type UpdateQuestion struct {
	Text    string   `json:"text"`
	Type    string   `json:"type" validate:"omitempty,qtype"`
	Subject string   `json:"subject"`
	Class   int      `json:"class" validate:"omitempty,min=1,max=12"`
	Chapter int      `json:"chapter" validate:"omitempty,min=1"`
	Options []Option `json:"options"`
}

func (uq *UpdateQuestion) Validate() error {
	uq.Text = core.CleanString(uq.Text)
	uq.Type = core.CleanString(uq.Type, true)
	uq.Subject = core.CleanString(uq.Subject)
	return core.Validate.Struct(uq)
}

type QueryFilter struct {
	Search    string `query:"search"`
	Subject   string `query:"subject"`
	Class     int    `query:"class"`
	Chapter   int    `query:"chapter"`
	Type      string `query:"type"`
	CreatedBy string `query:"-"`
	IsActive  *bool  `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Subject = core.CleanString(qf.Subject)
	qf.Type = core.CleanString(qf.Type, true)
}

// SampleFilter selects the pool for random test sampling.
type SampleFilter struct {
	Subject    string   `json:"subject" validate:"required"`
	Class      int      `json:"class" validate:"required,min=1,max=12"`
	Chapters   []int    `json:"chapters"`
	Types      []string `json:"types" validate:"dive,qtype"`
	ExcludeIDs []string `json:"exclude_ids"`
}

func (sf *SampleFilter) Validate() error {
	sf.Subject = core.CleanString(sf.Subject)
	for i, typ := range sf.Types {
		sf.Types[i] = core.CleanString(typ, true)
	}
	return core.Validate.Struct(sf)
}

type Stats struct {
	TotalQuestions  int            `json:"total_questions"`
	ActiveQuestions int            `json:"active_questions"`
	BySubject       map[string]int `json:"by_subject"`
	ByClass         map[int]int    `json:"by_class"`
}

// FilterOptions lists the distinct values usable in QueryFilter, for UI dropdowns.
type FilterOptions struct {
	Subjects []string `json:"subjects"`
	Classes  []int    `json:"classes"`
	Chapters []int    `json:"chapters"`
	Types    []string `json:"types"`
}
