package echoapi

import (
	"testing"

	"github.com/trezcool/shule/core/account"
)

func Test_getRefreshClaims_uniquePerIssue(t *testing.T) {
	acct := account.Account{ID: "acct-1"}

	// tokens issued back to back (same second) must still rotate
	first, second := getRefreshClaims(acct), getRefreshClaims(acct)
	if first.Id == "" {
		t.Fatal("refresh claims have no Id")
	}
	if first.Id == second.Id {
		t.Errorf("successive refresh claims share Id %q", first.Id)
	}

	tok1, err := GenerateToken(first)
	if err != nil {
		t.Fatalf("GenerateToken() failed, %v", err)
	}
	tok2, err := GenerateToken(second)
	if err != nil {
		t.Fatalf("GenerateToken() failed, %v", err)
	}
	if tok1 == tok2 {
		t.Error("successive refresh tokens are identical; rotation would be a no-op")
	}
}
