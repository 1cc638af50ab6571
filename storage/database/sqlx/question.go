package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/question"
)

type questionRepository struct {
	db *sqlx.DB
}

var _ question.Repository = (*questionRepository)(nil) // interface compliance check

func NewQuestionRepository(db *sqlx.DB) *questionRepository {
	return &questionRepository{db: db}
}

type questionRow struct {
	ID        string      `db:"id"`
	Text      string      `db:"text"`
	Type      string      `db:"type"`
	Subject   string      `db:"subject"`
	Class     int         `db:"class"`
	Chapter   int         `db:"chapter"`
	Options   null.JSON   `db:"options"`
	CreatedBy null.String `db:"created_by"`
	IsActive  bool        `db:"is_active"`

	TimesUsed       int `db:"times_used"`
	CorrectAttempts int `db:"correct_attempts"`
	TotalAttempts   int `db:"total_attempts"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (repo questionRepository) pack(q question.Question) (questionRow, error) {
	row := questionRow{
		ID:              q.ID,
		Text:            q.Text,
		Type:            q.Type,
		Subject:         q.Subject,
		Class:           q.Class,
		Chapter:         q.Chapter,
		CreatedBy:       nullUUID(q.CreatedBy),
		IsActive:        q.IsActive,
		TimesUsed:       q.TimesUsed,
		CorrectAttempts: q.CorrectAttempts,
		TotalAttempts:   q.TotalAttempts,
		CreatedAt:       q.CreatedAt.UTC(),
		UpdatedAt:       q.UpdatedAt.UTC(),
	}
	if q.Options != nil {
		data, err := json.Marshal(q.Options)
		if err != nil {
			return questionRow{}, errors.Wrap(err, "marshaling options")
		}
		row.Options = null.JSONFrom(data)
	}
	return row, nil
}

func (repo questionRepository) unpack(row questionRow) (question.Question, error) {
	q := question.Question{
		ID:              row.ID,
		Text:            row.Text,
		Type:            row.Type,
		Subject:         row.Subject,
		Class:           row.Class,
		Chapter:         row.Chapter,
		CreatedBy:       row.CreatedBy.String,
		IsActive:        row.IsActive,
		TimesUsed:       row.TimesUsed,
		CorrectAttempts: row.CorrectAttempts,
		TotalAttempts:   row.TotalAttempts,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.Options.Valid {
		if err := json.Unmarshal(row.Options.JSON, &q.Options); err != nil {
			return question.Question{}, errors.Wrap(err, "unmarshaling options")
		}
	}
	return q, nil
}

func (repo questionRepository) unpackSlice(rows []questionRow) ([]question.Question, error) {
	qs := make([]question.Question, 0, len(rows))
	for _, row := range rows {
		q, err := repo.unpack(row)
		if err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	return qs, nil
}

func (repo questionRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return question.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

const questionInsertQuery = `
INSERT INTO question (
	id, text, type, subject, class, chapter, options, created_by, is_active,
	times_used, correct_attempts, total_attempts, created_at, updated_at
) VALUES (
	:id, :text, :type, :subject, :class, :chapter, :options, :created_by, :is_active,
	:times_used, :correct_attempts, :total_attempts, :created_at, :updated_at
)`

const questionUpdateQuery = `
UPDATE question SET
	text = :text, type = :type, subject = :subject, class = :class, chapter = :chapter,
	options = :options, is_active = :is_active, updated_at = :updated_at
WHERE id = :id`

func (repo questionRepository) CreateQuestion(ctx context.Context, q question.Question) (question.Question, error) {
	q.ID = uuid.New().String()
	row, err := repo.pack(q)
	if err != nil {
		return question.Question{}, err
	}
	if _, err := repo.db.NamedExecContext(ctx, questionInsertQuery, row); err != nil {
		return question.Question{}, errors.Wrap(err, "inserting question")
	}
	return q, nil
}

// CreateQuestions inserts the whole batch in one transaction.
func (repo questionRepository) CreateQuestions(ctx context.Context, qs []question.Question) ([]question.Question, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	created := make([]question.Question, 0, len(qs))
	for _, q := range qs {
		q.ID = uuid.New().String()
		row, err := repo.pack(q)
		if err != nil {
			return nil, err
		}
		if _, err := tx.NamedExecContext(ctx, questionInsertQuery, row); err != nil {
			return nil, errors.Wrap(err, "inserting question")
		}
		created = append(created, q)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing questions")
	}
	return created, nil
}

func (repo questionRepository) GetQuestion(ctx context.Context, id string) (question.Question, error) {
	if _, err := uuid.Parse(id); err != nil {
		return question.Question{}, question.ErrNotFound
	}
	var row questionRow
	if err := repo.db.GetContext(ctx, &row, `SELECT * FROM question WHERE id = $1`, id); err != nil {
		return question.Question{}, repo.trapNoRowsErr(err, "finding question")
	}
	return repo.unpack(row)
}

func (repo questionRepository) buildWhere(filter *question.QueryFilter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var conds []string
	var args []interface{}
	arg := func(val interface{}) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Search != "" {
		conds = append(conds, "text ILIKE "+arg("%"+filter.Search+"%"))
	}
	if filter.Subject != "" {
		conds = append(conds, "subject = "+arg(filter.Subject))
	}
	if filter.Class != 0 {
		conds = append(conds, "class = "+arg(filter.Class))
	}
	if filter.Chapter != 0 {
		conds = append(conds, "chapter = "+arg(filter.Chapter))
	}
	if filter.Type != "" {
		conds = append(conds, "type = "+arg(filter.Type))
	}
	if filter.CreatedBy != "" {
		if _, err := uuid.Parse(filter.CreatedBy); err != nil {
			conds = append(conds, "FALSE")
		} else {
			conds = append(conds, "created_by = "+arg(filter.CreatedBy))
		}
	}
	if filter.IsActive != nil {
		conds = append(conds, "is_active = "+arg(*filter.IsActive))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var questionSortColumns = map[string]bool{
	"subject":    true,
	"class":      true,
	"chapter":    true,
	"type":       true,
	"times_used": true,
	"created_at": true,
	"updated_at": true,
}

func (repo questionRepository) FilterQuestions(ctx context.Context, filter *question.QueryFilter, ordering []core.DBOrdering) ([]question.Question, error) {
	where, args := repo.buildWhere(filter)
	query := `SELECT * FROM question` + where + orderBy(ordering, questionSortColumns)

	var rows []questionRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying questions")
	}
	return repo.unpackSlice(rows)
}

func (repo questionRepository) CountQuestions(ctx context.Context, filter *question.QueryFilter) (int, error) {
	where, args := repo.buildWhere(filter)
	var count int
	if err := repo.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM question`+where, args...); err != nil {
		return 0, errors.Wrap(err, "counting questions")
	}
	return count, nil
}

func (repo questionRepository) UpdateQuestion(ctx context.Context, q question.Question) (question.Question, error) {
	row, err := repo.pack(q)
	if err != nil {
		return question.Question{}, err
	}
	res, err := repo.db.NamedExecContext(ctx, questionUpdateQuery, row)
	if err != nil {
		return question.Question{}, errors.Wrap(err, "updating question")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return question.Question{}, question.ErrNotFound
	}
	return q, nil
}

func (repo questionRepository) DeleteQuestionsByID(ctx context.Context, ids ...string) (int, error) {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM question WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting questions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deleting questions")
	}
	return int(n), nil
}

// SampleQuestions draws a uniform sample with ORDER BY random() and bumps
// times_used on the drawn rows in the same transaction.
func (repo questionRepository) SampleQuestions(ctx context.Context, filter question.SampleFilter, count int) ([]question.Question, error) {
	conds := []string{"is_active = TRUE", "subject = $1", "class = $2"}
	args := []interface{}{filter.Subject, filter.Class}
	arg := func(val interface{}) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Chapters) > 0 {
		conds = append(conds, "chapter = ANY("+arg(pq.Array(filter.Chapters))+")")
	}
	if len(filter.Types) > 0 {
		conds = append(conds, "type = ANY("+arg(pq.Array(filter.Types))+")")
	}
	if len(filter.ExcludeIDs) > 0 {
		conds = append(conds, "NOT (id = ANY("+arg(pq.Array(filter.ExcludeIDs))+"))")
	}

	query := `SELECT * FROM question WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY random() LIMIT ` + arg(count)

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var rows []questionRow
	if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "sampling questions")
	}

	if len(rows) > 0 {
		ids := make([]string, 0, len(rows))
		for i := range rows {
			ids = append(ids, rows[i].ID)
			rows[i].TimesUsed++
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE question SET times_used = times_used + 1 WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
			return nil, errors.Wrap(err, "recording question usage")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "committing sample")
	}
	return repo.unpackSlice(rows)
}

func (repo questionRepository) QuestionStats(ctx context.Context) (question.Stats, error) {
	stats := question.Stats{
		BySubject: make(map[string]int),
		ByClass:   make(map[int]int),
	}

	if err := repo.db.GetContext(ctx, &stats.TotalQuestions, `SELECT COUNT(*) FROM question`); err != nil {
		return question.Stats{}, errors.Wrap(err, "counting questions")
	}
	if err := repo.db.GetContext(ctx, &stats.ActiveQuestions, `SELECT COUNT(*) FROM question WHERE is_active = TRUE`); err != nil {
		return question.Stats{}, errors.Wrap(err, "counting active questions")
	}

	var subjectRows []struct {
		Subject string `db:"subject"`
		Count   int    `db:"count"`
	}
	if err := repo.db.SelectContext(ctx, &subjectRows,
		`SELECT subject, COUNT(*) AS count FROM question GROUP BY subject`); err != nil {
		return question.Stats{}, errors.Wrap(err, "counting questions by subject")
	}
	for _, row := range subjectRows {
		stats.BySubject[row.Subject] = row.Count
	}

	var classRows []struct {
		Class int `db:"class"`
		Count int `db:"count"`
	}
	if err := repo.db.SelectContext(ctx, &classRows,
		`SELECT class, COUNT(*) AS count FROM question GROUP BY class`); err != nil {
		return question.Stats{}, errors.Wrap(err, "counting questions by class")
	}
	for _, row := range classRows {
		stats.ByClass[row.Class] = row.Count
	}

	return stats, nil
}

func (repo questionRepository) QuestionFilterOptions(ctx context.Context) (question.FilterOptions, error) {
	opts := question.FilterOptions{Types: question.AllTypes}

	if err := repo.db.SelectContext(ctx, &opts.Subjects,
		`SELECT DISTINCT subject FROM question ORDER BY subject`); err != nil {
		return question.FilterOptions{}, errors.Wrap(err, "listing subjects")
	}
	if err := repo.db.SelectContext(ctx, &opts.Classes,
		`SELECT DISTINCT class FROM question ORDER BY class`); err != nil {
		return question.FilterOptions{}, errors.Wrap(err, "listing classes")
	}
	if err := repo.db.SelectContext(ctx, &opts.Chapters,
		`SELECT DISTINCT chapter FROM question ORDER BY chapter`); err != nil {
		return question.FilterOptions{}, errors.Wrap(err, "listing chapters")
	}
	return opts, nil
}

func (repo questionRepository) RecordQuestionAttempt(ctx context.Context, id string, correct bool) error {
	if _, err := uuid.Parse(id); err != nil {
		return question.ErrNotFound
	}
	correctInc := 0
	if correct {
		correctInc = 1
	}
	res, err := repo.db.ExecContext(ctx,
		`UPDATE question SET total_attempts = total_attempts + 1, correct_attempts = correct_attempts + $2 WHERE id = $1`,
		id, correctInc)
	if err != nil {
		return errors.Wrap(err, "recording question attempt")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return question.ErrNotFound
	}
	return nil
}
