package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-results/core/user"
)

func (cli *commandLine) resetPassword(uname, pwd string) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return errors.Cause(err)
	}
	if err = user.ValidatePassword(pwd, usr); err != nil {
		return err
	}
	return cli.usrSvc.SetPassword(ctx, uname, pwd)
}
