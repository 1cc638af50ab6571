package main

import (
	"context"

	"github.com/trezcool/shule/core/account"
)

// createAdmin provisions a new platform administrator account.
func (cli *commandLine) createAdmin(fullName, uname, email, pwd string) error {
	ctx := context.Background()
	data := account.NewAdmin{
		FullName:        fullName,
		Username:        uname,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
	}
	if err := data.Validate(ctx, cli.acctSvc); err != nil {
		return err
	}
	if _, err := cli.acctSvc.CreateAdmin(ctx, data); err != nil {
		return err
	}
	return nil
}
