package account

import (
	"testing"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
)

func passwordTags(t *testing.T, err error) []string {
	t.Helper()
	if err == nil {
		return nil
	}
	vErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		t.Fatalf("error = %v, want validator.ValidationErrors", err)
	}
	var tags []string
	for _, vErr := range vErrs {
		if vErr.Field() == "password" {
			tags = append(tags, vErr.Tag())
		}
	}
	return tags
}

func TestPasswordPolicy(t *testing.T) {
	newData := func(pwd string) NewAdmin {
		return NewAdmin{
			FullName:        "Jane Principal",
			Username:        "jane",
			Email:           "jane@shule.cd",
			Password:        pwd,
			PasswordConfirm: pwd,
		}
	}

	tests := []struct {
		name     string
		pwd      string
		wantTags []string
	}{
		// empty passwords are the `required` rule's to report, not the policy's
		{name: "empty", pwd: "", wantTags: []string{"required"}},
		{name: "too short", pwd: "L0l@", wantTags: []string{pwdMinLenTag}},
		{name: "whitespace", pwd: "L0l@Cat s", wantTags: []string{pwdNoSpaceTag}},
		{name: "all numeric", pwd: "1234567890", wantTags: []string{pwdNotAllNumTag}},
		{name: "no complexity", pwd: "lolcatslolcats", wantTags: []string{pwdComplexityTag}},
		{name: "similar to attributes", pwd: "Jane@shule.cd1", wantTags: []string{pwdAttrSimTag}},
		{name: "valid", pwd: "Sup3r$ecret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := core.Validate.Struct(newData(tt.pwd))
			got := passwordTags(t, err)
			if len(got) != len(tt.wantTags) {
				t.Fatalf("password tags = %v, want %v", got, tt.wantTags)
			}
			for i, tag := range tt.wantTags {
				if got[i] != tag {
					t.Errorf("password tags = %v, want %v", got, tt.wantTags)
				}
			}
		})
	}
}
