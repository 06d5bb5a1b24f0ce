package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/masomo-results/core/scratchcard"
	"github.com/trezcool/masomo-results/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db      *sql.DB // nil unless stored in PostgreSQL
	usrSvc  *user.Service
	cardSvc *scratchcard.Service
	out     io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS...] - run a goose command against the database (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  adduser -username USERNAME -email EMAIL [-name NAME] [-admin|-teacher|-student] - add or update a user")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Fprintln(cli.out, "  generatecards -count N [-student ID] - generate scratch cards and print their PINs")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			fmt.Fprintln(cli.out, "Usage: migrate COMMAND [ARGS...]")
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		cmd := cli.newFlagSet("adduser")
		uname := cmd.String("username", "", "The user's username.")
		email := cmd.String("email", "", "The user's email.")
		name := cmd.String("name", "", "The user's full name. Defaults to the username.")
		isAdmin := cmd.Bool("admin", false, "Grant the admin role.")
		isTeacher := cmd.Bool("teacher", false, "Grant the teacher role.")
		isStudent := cmd.Bool("student", false, "Grant the student role.")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *uname == "" || *email == "" {
			cmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			cmd.Usage()
			return errHelp
		}

		var roles []string
		if *isAdmin {
			roles = append(roles, user.RoleAdmin)
		}
		if *isTeacher {
			roles = append(roles, user.RoleTeacher)
		}
		if *isStudent {
			roles = append(roles, user.RoleStudent)
		}
		return cli.addUser(*name, *uname, *email, pwd, roles)

	case "resetpassword":
		cmd := cli.newFlagSet("resetpassword")
		uname := cmd.String("username", "", "The user's username or email. The password will be prompted next.")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *uname == "" {
			cmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*uname, pwd)

	case "generatecards":
		cmd := cli.newFlagSet("generatecards")
		count := cmd.Int("count", 0, "Number of scratch cards to generate.")
		studentID := cmd.String("student", "", "Bind the cards to this student's ID.")
		if err := cmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *count <= 0 {
			cmd.Usage()
			return errHelp
		}
		return cli.generateCards(*count, *studentID)

	default:
		cli.printUsage()
		return errHelp
	}
}
