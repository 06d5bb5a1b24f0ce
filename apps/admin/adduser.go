package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-results/core"
	"github.com/trezcool/masomo-results/core/user"
)

// addUser updates or creates an active user.User, replacing its roles when some are given.
func (cli *commandLine) addUser(name, uname, email, pwd string, roles []string) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	if name = core.CleanString(name); name == "" {
		name = uname
	}

	usr, err := cli.findUser(ctx, uname, email)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		usr = user.User{Username: uname, Email: email}
	}
	usr.Name = name
	usr.IsActive = true
	if len(roles) > 0 {
		usr.Roles = roles
	}

	if err = user.ValidatePassword(pwd, usr); err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	if usr, err = cli.usrSvc.UpdateOrCreate(ctx, usr); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "user %s saved (%s)\n", usr.Username, usr.ID)
	return nil
}

func (cli *commandLine) findUser(ctx context.Context, uname, email string) (user.User, error) {
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if errors.Cause(err) == user.ErrNotFound {
		return cli.usrSvc.GetByUsernameOrEmail(ctx, email)
	}
	return usr, err
}
