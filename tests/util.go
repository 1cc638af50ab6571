package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/trezcool/shule/core/account"
	"github.com/trezcool/shule/core/question"
)

// CreateAccount persists acct with sane defaults for tests: timestamped,
// StatusActive unless set and, if pwd is given, a usable password.
func CreateAccount(
	t *testing.T,
	repo account.Repository,
	acct account.Account,
	pwd string,
	createdAt ...time.Time,
) account.Account {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	acct.CreatedAt = tstamp
	acct.UpdatedAt = tstamp
	if acct.Status == "" {
		acct.Status = account.StatusActive
	}
	if pwd != "" {
		if err := acct.SetPassword(pwd); err != nil {
			t.Fatalf("CreateAccount() failed: %v", err)
		}
	}

	acct, err := repo.CreateAccount(context.Background(), acct)
	if err != nil {
		t.Fatalf("CreateAccount() failed: %v", err)
	}
	return acct
}

func CreateQuestion(t *testing.T, repo question.Repository, q question.Question) question.Question {
	t.Helper()

	tstamp := time.Now().UTC()
	q.CreatedAt = tstamp
	q.UpdatedAt = tstamp

	q, err := repo.CreateQuestion(context.Background(), q)
	if err != nil {
		t.Fatalf("CreateQuestion() failed: %v", err)
	}
	return q
}

// MCQOptions returns a valid 4-option set with the first option correct.
func MCQOptions() []question.Option {
	return []question.Option{
		{Text: "Option A", IsCorrect: true},
		{Text: "Option B"},
		{Text: "Option C"},
		{Text: "Option D"},
	}
}
