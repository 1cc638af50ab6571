package dummydb

import (
	"context"
	"testing"

	"github.com/trezcool/shule/core/account"
)

func TestAccountRepositoryCheckUniqueness(t *testing.T) {
	db, err := Open()
	if err != nil {
		t.Fatalf("Open() failed, %v", err)
	}
	repo := NewAccountRepository(db)
	ctx := context.Background()

	existing, err := repo.CreateAccount(ctx, account.Account{
		Role:     account.RoleStudent,
		Username: "stu1",
		Email:    "", // students may have no email
	})
	if err != nil {
		t.Fatalf("CreateAccount() failed, %v", err)
	}

	tests := []struct {
		name     string
		username string
		email    string
		excluded []account.Account
		wantErr  error
	}{
		{name: "free username and no email", username: "stu2", email: ""},
		{name: "username taken", username: "stu1", email: "", wantErr: account.ErrUsernameExists},
		{name: "username taken but excluded", username: "stu1", email: "", excluded: []account.Account{existing}},
		{name: "free email", username: "stu2", email: "stu2@shule.cd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := repo.CheckUniqueness(ctx, tt.username, tt.email, tt.excluded...); err != tt.wantErr {
				t.Errorf("CheckUniqueness() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if _, err := repo.CreateAccount(ctx, account.Account{
		Role:     account.RolePrincipal,
		Username: "jane",
		Email:    "jane@shule.cd",
	}); err != nil {
		t.Fatalf("CreateAccount() failed, %v", err)
	}
	if err := repo.CheckUniqueness(ctx, "stu2", "jane@shule.cd"); err != account.ErrEmailExists {
		t.Errorf("CheckUniqueness() error = %v, wantErr %v", err, account.ErrEmailExists)
	}
}
