package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
)

type accountRepository struct {
	db *accountTable
}

var _ account.Repository = (*accountRepository)(nil) // interface compliance check

func NewAccountRepository(db *DB) *accountRepository {
	return &accountRepository{db: db.account}
}

func (repo *accountRepository) query() []account.Account {
	accts := make([]account.Account, 0, len(repo.db.table))
	for _, acct := range repo.db.table {
		accts = append(accts, *acct)
	}
	return accts
}

func isExcluded(acct account.Account, excluded []account.Account) bool {
	for _, excl := range excluded {
		if acct.ID == excl.ID {
			return true
		}
	}
	return false
}

func (repo *accountRepository) CheckUniqueness(_ context.Context, username, email string, excluded ...account.Account) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, acct := range repo.query() {
		if isExcluded(acct, excluded) {
			continue
		}
		if strings.EqualFold(acct.Username, username) {
			return account.ErrUsernameExists
		}
		// email is optional on some accounts; an empty one is not a collision
		if email != "" && strings.EqualFold(acct.Email, email) {
			return account.ErrEmailExists
		}
	}
	return nil
}

func (repo *accountRepository) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	acct.ID = uuid.New().String()
	repo.db.table[acct.ID] = &acct
	return acct, nil
}

func (repo *accountRepository) GetAccount(_ context.Context, filter account.GetFilter) (account.Account, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if acct, ok := repo.db.table[filter.ID]; ok {
			return *acct, nil
		}
		return account.Account{}, account.ErrNotFound
	}

	for _, acct := range repo.query() {
		switch {
		case filter.Username != "":
			if strings.EqualFold(acct.Username, filter.Username) {
				return acct, nil
			}
		case filter.Email != "":
			if strings.EqualFold(acct.Email, filter.Email) {
				return acct, nil
			}
		case filter.UsernameOrEmail != nil:
			var email string
			uname := filter.UsernameOrEmail[0]
			if len(filter.UsernameOrEmail) == 2 {
				email = filter.UsernameOrEmail[1]
			}
			if email == "" {
				email = uname
			} else if uname == "" {
				uname = email
			}
			if strings.EqualFold(acct.Username, uname) || strings.EqualFold(acct.Email, email) {
				return acct, nil
			}
		}
	}
	return account.Account{}, account.ErrNotFound
}

func (repo *accountRepository) matches(acct account.Account, filter *account.QueryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Search != "" {
		search := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(acct.FullName), search) &&
			!strings.Contains(strings.ToLower(acct.Username), search) &&
			!strings.Contains(strings.ToLower(acct.Email), search) {
			return false
		}
	}
	if filter.Role != "" && acct.Role != filter.Role {
		return false
	}
	if filter.Status != "" && acct.Status != filter.Status {
		return false
	}
	if filter.PrincipalID != "" && acct.PrincipalID != filter.PrincipalID {
		return false
	}
	if filter.Class != 0 && acct.Class != filter.Class {
		return false
	}
	if filter.Section != "" && acct.Section != filter.Section {
		return false
	}
	if filter.IsActive != nil && acct.IsActive != *filter.IsActive {
		return false
	}
	if filter.HasPaymentSlip && acct.PaymentSlip == "" {
		return false
	}
	if filter.PaymentStatus != "" && acct.PaymentStatus != filter.PaymentStatus {
		return false
	}
	if !filter.CreatedFrom.IsZero() && acct.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && acct.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

func (repo *accountRepository) FilterAccounts(_ context.Context, filter *account.QueryFilter, ordering []core.DBOrdering) ([]account.Account, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var accts []account.Account
	for _, acct := range repo.query() {
		if repo.matches(acct, filter) {
			accts = append(accts, acct)
		}
	}

	// newest first unless an explicit ordering is requested; only the
	// created_at orderings used by the API are honored here.
	asc := false
	if len(ordering) > 0 && ordering[0].Field == "created_at" {
		asc = ordering[0].Ascending
	}
	sort.Slice(accts, func(i, j int) bool {
		if asc {
			return accts[i].CreatedAt.Before(accts[j].CreatedAt)
		}
		return accts[i].CreatedAt.After(accts[j].CreatedAt)
	})
	return accts, nil
}

func (repo *accountRepository) CountAccounts(ctx context.Context, filter *account.QueryFilter) (int, error) {
	accts, err := repo.FilterAccounts(ctx, filter, nil)
	return len(accts), err
}

func (repo *accountRepository) UpdateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[acct.ID]; !ok {
		return account.Account{}, account.ErrNotFound
	}
	repo.db.table[acct.ID] = &acct
	return acct, nil
}

func (repo *accountRepository) DeleteAccountsByID(_ context.Context, ids ...string) (int, error) {
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

func (repo *accountRepository) ReserveStudentSlot(_ context.Context, principalID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	principal, ok := repo.db.table[principalID]
	if !ok {
		return account.ErrNotFound
	}
	if principal.StudentCount >= principal.MaxStudents {
		return account.ErrStudentLimitReached
	}
	principal.StudentCount++
	return nil
}

func (repo *accountRepository) ReleaseStudentSlot(_ context.Context, principalID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	principal, ok := repo.db.table[principalID]
	if !ok {
		return account.ErrNotFound
	}
	if principal.StudentCount > 0 {
		principal.StudentCount--
	}
	return nil
}
