package main

import (
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-results/storage/database"
)

var errNoDatabase = errors.New("migrate needs the postgres or redis storage driver")

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoDatabase
	}
	return errors.Cause(database.Migrate(cli.db, args[0], args[1:]...))
}
