package echoapi

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core/account"
)

func Test_trapAccessDeniedErr(t *testing.T) {
	denied := account.AccessDeniedError{Reason: "Your account has been suspended. Please contact support."}

	tests := []struct {
		name string
		err  error
	}{
		{name: "bare", err: denied},
		{name: "wrapped", err: errors.Wrap(denied, "authenticating")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hErr, ok := trapAccessDeniedErr(tt.err).(*echo.HTTPError)
			if !ok {
				t.Fatalf("trapAccessDeniedErr() = %v, want *echo.HTTPError", tt.err)
			}
			if hErr.Code != http.StatusForbidden {
				t.Errorf("code = %d, want %d", hErr.Code, http.StatusForbidden)
			}
			if hErr.Message != denied.Reason {
				t.Errorf("message = %v, want %q", hErr.Message, denied.Reason)
			}
		})
	}

	// unrelated errors pass through untouched
	err := errors.New("boom")
	if got := trapAccessDeniedErr(err); got != err {
		t.Errorf("trapAccessDeniedErr() = %v, want %v", got, err)
	}
}
