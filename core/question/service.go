package question

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// NowFunc is the source of current time. It can be mocked in tests.
var NowFunc = time.Now

var (
	ErrNotFound = errors.New("question not found")

	errSampleCount = errors.New("count must be at least 1")
)

type Repository interface {
	CreateQuestion(ctx context.Context, q Question) (Question, error)
	CreateQuestions(ctx context.Context, qs []Question) ([]Question, error)
	GetQuestion(ctx context.Context, id string) (Question, error)
	FilterQuestions(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Question, error)
	CountQuestions(ctx context.Context, filter *QueryFilter) (int, error)
	UpdateQuestion(ctx context.Context, q Question) (Question, error)
	DeleteQuestionsByID(ctx context.Context, ids ...string) (int, error)
	SampleQuestions(ctx context.Context, filter SampleFilter, count int) ([]Question, error)
	QuestionStats(ctx context.Context) (Stats, error)
	QuestionFilterOptions(ctx context.Context) (FilterOptions, error)
	RecordQuestionAttempt(ctx context.Context, id string, correct bool) error
}

type Service interface {
	Create(ctx context.Context, data NewQuestion, createdBy string) (Question, error)
	BulkCreate(ctx context.Context, data []NewQuestion, createdBy string) ([]Question, error)
	Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Question, error)
	Count(ctx context.Context, filter *QueryFilter) (int, error)
	GetByID(ctx context.Context, id string) (Question, error)
	Update(ctx context.Context, id string, data UpdateQuestion) (Question, error)
	SoftDelete(ctx context.Context, id string) (Question, error)
	Restore(ctx context.Context, id string) (Question, error)
	PermanentDelete(ctx context.Context, id string) error
	SampleForTest(ctx context.Context, filter SampleFilter, count int) ([]Question, error)
	Stats(ctx context.Context) (Stats, error)
	FilterOptions(ctx context.Context) (FilterOptions, error)
	RecordAttempt(ctx context.Context, id string, correct bool) error
}

// service compliance check
var _ Service = (*service)(nil)

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (svc *service) Create(ctx context.Context, data NewQuestion, createdBy string) (Question, error) {
	if err := data.Validate(); err != nil {
		return Question{}, err
	}
	return svc.repo.CreateQuestion(ctx, svc.build(data, createdBy))
}

// BulkCreate validates the whole batch before persisting any of it.
func (svc *service) BulkCreate(ctx context.Context, data []NewQuestion, createdBy string) ([]Question, error) {
	if len(data) == 0 {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "questions", Error: "at least one question is required"})
	}

	qs := make([]Question, 0, len(data))
	for i := range data {
		if err := data[i].Validate(); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("question %d", i+1))
		}
		qs = append(qs, svc.build(data[i], createdBy))
	}
	return svc.repo.CreateQuestions(ctx, qs)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Question, error) {
	return svc.repo.FilterQuestions(ctx, filter, ordering)
}

func (svc *service) Count(ctx context.Context, filter *QueryFilter) (int, error) {
	return svc.repo.CountQuestions(ctx, filter)
}

func (svc *service) GetByID(ctx context.Context, id string) (Question, error) {
	return svc.repo.GetQuestion(ctx, id)
}

func (svc *service) Update(ctx context.Context, id string, data UpdateQuestion) (Question, error) {
	if err := data.Validate(); err != nil {
		return Question{}, err
	}

	q, err := svc.repo.GetQuestion(ctx, id)
	if err != nil {
		return Question{}, err
	}

	typeChanged := data.Type != "" && data.Type != q.Type
	if data.Text != "" {
		q.Text = data.Text
	}
	if data.Type != "" {
		q.Type = data.Type
	}
	if data.Subject != "" {
		q.Subject = data.Subject
	}
	if data.Class != 0 {
		q.Class = data.Class
	}
	if data.Chapter != 0 {
		q.Chapter = data.Chapter
	}
	if data.Options != nil {
		q.Options = data.Options
	}

	// the merged record must satisfy the same invariants as a fresh one;
	// switching to an option-bearing type demands a matching options array
	// in the same patch.
	if q.HasOptions() {
		if typeChanged && data.Options == nil {
			return Question{}, core.NewValidationError(nil, core.FieldError{Field: "options", Error: errOptionsRequired.Error()})
		}
		if err := validateOptions(q.Type, q.Options); err != nil {
			return Question{}, err
		}
	} else {
		q.Options = nil
	}

	q.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateQuestion(ctx, q)
}

func (svc *service) SoftDelete(ctx context.Context, id string) (Question, error) {
	return svc.setActive(ctx, id, false)
}

func (svc *service) Restore(ctx context.Context, id string) (Question, error) {
	return svc.setActive(ctx, id, true)
}

func (svc *service) PermanentDelete(ctx context.Context, id string) error {
	n, err := svc.repo.DeleteQuestionsByID(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (svc *service) SampleForTest(ctx context.Context, filter SampleFilter, count int) ([]Question, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "count", Error: errSampleCount.Error()})
	}
	return svc.repo.SampleQuestions(ctx, filter, count)
}

func (svc *service) Stats(ctx context.Context) (Stats, error) {
	return svc.repo.QuestionStats(ctx)
}

func (svc *service) FilterOptions(ctx context.Context) (FilterOptions, error) {
	return svc.repo.QuestionFilterOptions(ctx)
}

func (svc *service) RecordAttempt(ctx context.Context, id string, correct bool) error {
	return svc.repo.RecordQuestionAttempt(ctx, id, correct)
}

func (svc *service) build(data NewQuestion, createdBy string) Question {
	now := NowFunc().UTC()
	q := Question{
		Text:      data.Text,
		Type:      data.Type,
		Subject:   data.Subject,
		Class:     data.Class,
		Chapter:   data.Chapter,
		CreatedBy: createdBy,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if q.HasOptions() {
		q.Options = data.Options
	}
	return q
}

func (svc *service) setActive(ctx context.Context, id string, active bool) (Question, error) {
	q, err := svc.repo.GetQuestion(ctx, id)
	if err != nil {
		return Question{}, err
	}
	q.IsActive = active
	q.UpdatedAt = NowFunc().UTC()
	return svc.repo.UpdateQuestion(ctx, q)
}
