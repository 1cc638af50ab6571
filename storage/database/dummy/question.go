package dummydb

import (
	"context"
	"math/rand"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/question"
)

type questionRepository struct {
	db *questionTable
}

var _ question.Repository = (*questionRepository)(nil) // interface compliance check

func NewQuestionRepository(db *DB) *questionRepository {
	return &questionRepository{db: db.question}
}

func (repo *questionRepository) query() []question.Question {
	qs := make([]question.Question, 0, len(repo.db.table))
	for _, q := range repo.db.table {
		qs = append(qs, *q)
	}
	return qs
}

func (repo *questionRepository) CreateQuestion(_ context.Context, q question.Question) (question.Question, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	q.ID = uuid.New().String()
	repo.db.table[q.ID] = &q
	return q, nil
}

func (repo *questionRepository) CreateQuestions(ctx context.Context, qs []question.Question) ([]question.Question, error) {
	created := make([]question.Question, 0, len(qs))
	for _, q := range qs {
		q, err := repo.CreateQuestion(ctx, q)
		if err != nil {
			return nil, err
		}
		created = append(created, q)
	}
	return created, nil
}

func (repo *questionRepository) GetQuestion(_ context.Context, id string) (question.Question, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if q, ok := repo.db.table[id]; ok {
		return *q, nil
	}
	return question.Question{}, question.ErrNotFound
}

func (repo *questionRepository) matches(q question.Question, filter *question.QueryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Search != "" && !strings.Contains(strings.ToLower(q.Text), strings.ToLower(filter.Search)) {
		return false
	}
	if filter.Subject != "" && q.Subject != filter.Subject {
		return false
	}
	if filter.Class != 0 && q.Class != filter.Class {
		return false
	}
	if filter.Chapter != 0 && q.Chapter != filter.Chapter {
		return false
	}
	if filter.Type != "" && q.Type != filter.Type {
		return false
	}
	if filter.CreatedBy != "" && q.CreatedBy != filter.CreatedBy {
		return false
	}
	if filter.IsActive != nil && q.IsActive != *filter.IsActive {
		return false
	}
	return true
}

func (repo *questionRepository) FilterQuestions(_ context.Context, filter *question.QueryFilter, ordering []core.DBOrdering) ([]question.Question, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var qs []question.Question
	for _, q := range repo.query() {
		if repo.matches(q, filter) {
			qs = append(qs, q)
		}
	}

	asc := false
	if len(ordering) > 0 && ordering[0].Field == "created_at" {
		asc = ordering[0].Ascending
	}
	sort.Slice(qs, func(i, j int) bool {
		if asc {
			return qs[i].CreatedAt.Before(qs[j].CreatedAt)
		}
		return qs[i].CreatedAt.After(qs[j].CreatedAt)
	})
	return qs, nil
}

func (repo *questionRepository) CountQuestions(ctx context.Context, filter *question.QueryFilter) (int, error) {
	qs, err := repo.FilterQuestions(ctx, filter, nil)
	return len(qs), err
}

func (repo *questionRepository) UpdateQuestion(_ context.Context, q question.Question) (question.Question, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[q.ID]; !ok {
		return question.Question{}, question.ErrNotFound
	}
	repo.db.table[q.ID] = &q
	return q, nil
}

func (repo *questionRepository) DeleteQuestionsByID(_ context.Context, ids ...string) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var n int
	for _, id := range ids {
		if _, ok := repo.db.table[id]; ok {
			delete(repo.db.table, id)
			n++
		}
	}
	return n, nil
}

func (repo *questionRepository) SampleQuestions(_ context.Context, filter question.SampleFilter, count int) ([]question.Question, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	excluded := make(map[string]bool, len(filter.ExcludeIDs))
	for _, id := range filter.ExcludeIDs {
		excluded[id] = true
	}

	var pool []question.Question
	for _, q := range repo.query() {
		if !q.IsActive || excluded[q.ID] {
			continue
		}
		if q.Subject != filter.Subject || q.Class != filter.Class {
			continue
		}
		if len(filter.Chapters) > 0 && !containsInt(filter.Chapters, q.Chapter) {
			continue
		}
		if len(filter.Types) > 0 && !containsStr(filter.Types, q.Type) {
			continue
		}
		pool = append(pool, q)
	}

	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > count {
		pool = pool[:count]
	}
	for i := range pool {
		pool[i].TimesUsed++
		sampled := pool[i]
		repo.db.table[sampled.ID] = &sampled
	}
	return pool, nil
}

func (repo *questionRepository) QuestionStats(_ context.Context) (question.Stats, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	stats := question.Stats{
		BySubject: make(map[string]int),
		ByClass:   make(map[int]int),
	}
	for _, q := range repo.query() {
		stats.TotalQuestions++
		if q.IsActive {
			stats.ActiveQuestions++
		}
		stats.BySubject[q.Subject]++
		stats.ByClass[q.Class]++
	}
	return stats, nil
}

func (repo *questionRepository) QuestionFilterOptions(_ context.Context) (question.FilterOptions, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	subjects := make(map[string]bool)
	classes := make(map[int]bool)
	chapters := make(map[int]bool)
	for _, q := range repo.query() {
		subjects[q.Subject] = true
		classes[q.Class] = true
		chapters[q.Chapter] = true
	}

	opts := question.FilterOptions{Types: question.AllTypes}
	for s := range subjects {
		opts.Subjects = append(opts.Subjects, s)
	}
	for c := range classes {
		opts.Classes = append(opts.Classes, c)
	}
	for c := range chapters {
		opts.Chapters = append(opts.Chapters, c)
	}
	sort.Strings(opts.Subjects)
	sort.Ints(opts.Classes)
	sort.Ints(opts.Chapters)
	return opts, nil
}

func (repo *questionRepository) RecordQuestionAttempt(_ context.Context, id string, correct bool) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	q, ok := repo.db.table[id]
	if !ok {
		return question.ErrNotFound
	}
	q.TotalAttempts++
	if correct {
		q.CorrectAttempts++
	}
	return nil
}

func containsInt(vals []int, v int) bool {
	for _, val := range vals {
		if val == v {
			return true
		}
	}
	return false
}

func containsStr(vals []string, v string) bool {
	for _, val := range vals {
		if val == v {
			return true
		}
	}
	return false
}
