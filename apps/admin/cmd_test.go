package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-results/core"
	"github.com/trezcool/masomo-results/core/scratchcard"
	"github.com/trezcool/masomo-results/core/user"
	emailsvc "github.com/trezcool/masomo-results/services/email"
	"github.com/trezcool/masomo-results/storage/database"
	"github.com/trezcool/masomo-results/storage/database/inmemdb"
	testutil "github.com/trezcool/masomo-results/tests"
)

const validPwd = "Str0ng!Pass"

var usrRepo user.Repository

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	t.Helper()
	conf := core.NewTestConfig()
	logger := &testutil.Logger{}
	core.ParseEmailTemplates(logger)

	db := inmemdb.Open()
	usrRepo = inmemdb.NewUserRepository(db)

	out := new(bytes.Buffer)
	return &commandLine{
		usrSvc:  user.NewService(usrRepo),
		cardSvc: scratchcard.NewService(inmemdb.NewScratchCardStore(db), emailsvc.NewConsoleServiceMock(logger, conf), conf),
		out:     out,
	}, out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, err)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func mockPassword(t *testing.T, pwd string) {
	orig := readPasswordFunc
	readPasswordFunc = func(fd int) ([]byte, error) {
		return []byte(pwd), nil
	}
	t.Cleanup(func() { readPasswordFunc = orig })
}

func Test_commandLine_usage(t *testing.T) {
	cli, out := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
			assert.Contains(t, out.String(), "Usage:")
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	t.Run("without database", func(t *testing.T) {
		assert.Equal(t, errNoDatabase, cli.run([]string{"admin", "migrate", "up"}))
	})

	mockDB, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	cli.db = mockDB

	orig := database.GooseRunFunc
	t.Cleanup(func() { database.GooseRunFunc = orig })
	database.GooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "add_cards_index", "sql"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli, _ := setup(t)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "missing email", args: []string{"adduser", "-username", "principal"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "principal", "-email", "principal@test.cd"}, wantErr: errHelp},
		{name: "unknown flag", args: []string{"adduser", "-lol"}, extra: extra{pwd: validPwd}, wantErr: errHelp},
		{
			name:       "weak password",
			args:       []string{"adduser", "-username", "principal", "-email", "principal@test.cd"},
			extra:      extra{pwd: "12345678901"},
			wantErrStr: "password: password cannot be entirely numeric",
		},
		{
			name:  "create admin",
			args:  []string{"adduser", "-username", "Principal", "-email", "principal@test.cd", "-admin"},
			extra: extra{pwd: validPwd},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pwd := ""
			if extra, ok := tt.extra.(extra); ok {
				pwd = extra.pwd
			}
			mockPassword(t, pwd)
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	ctx := context.Background()
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, "principal")
	require.NoError(t, err)
	assert.True(t, usr.IsAdmin())
	assert.True(t, usr.IsActive)
	assert.Equal(t, "principal", usr.Name)
	assert.NoError(t, usr.CheckPassword(validPwd))

	t.Run("update existing by email", func(t *testing.T) {
		mockPassword(t, "An0ther!Secret")
		err := cli.run([]string{"admin", "adduser", "-username", "new_name", "-email", "principal@test.cd", "-teacher", "-name", "The Principal"})
		require.NoError(t, err)

		updated, err := cli.usrSvc.GetByID(ctx, usr.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{user.RoleTeacher}, updated.Roles)
		assert.Equal(t, "The Principal", updated.Name)
		assert.Equal(t, "principal", updated.Username)
		assert.NoError(t, updated.CheckPassword("An0ther!Secret"))
	})
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, _ := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "User", "awesome", "awe@test.cd", validPwd, nil, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{
			name:       "password too short",
			args:       []string{"resetpassword", "-username", usr.Username},
			extra:      extra{pwd: "lol"},
			wantErrStr: "password: password must contain at least 8 characters",
		},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "N3w!Passw0rd"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: extra{pwd: "Y3t!Anoth3r"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pwd := ""
			if extra, ok := tt.extra.(extra); ok {
				pwd = extra.pwd
			}
			mockPassword(t, pwd)

			err := cli.run(append([]string{"admin"}, tt.args...))
			tt.check(t, err)
			if err == nil {
				refreshed, err := cli.usrSvc.GetByID(context.Background(), usr.ID)
				require.NoError(t, err)
				assert.False(t, bytes.Equal(refreshed.PasswordHash, usr.PasswordHash), "failed to update new password")
				assert.NoError(t, refreshed.CheckPassword(pwd))
			}
		})
	}
}

func Test_commandLine_generateCards(t *testing.T) {
	cli, out := setup(t)

	student := testutil.CreateUser(t, usrRepo, "Student", "student", "student@test.cd", validPwd, []string{user.RoleStudent}, true)
	teacher := testutil.CreateUser(t, usrRepo, "Teacher", "teacher", "teacher@test.cd", validPwd, []string{user.RoleTeacher}, true)

	tests := []cliTest{
		{name: "no args", args: []string{"generatecards"}, wantErr: errHelp},
		{name: "invalid count", args: []string{"generatecards", "-count", "lol"}, wantErr: errHelp},
		{name: "negative count", args: []string{"generatecards", "-count", "-2"}, wantErr: errHelp},
		{name: "unknown student", args: []string{"generatecards", "-count", "1", "-student", "lol"}, wantErr: errNotAStudent},
		{name: "not a student", args: []string{"generatecards", "-count", "1", "-student", teacher.ID}, wantErr: errNotAStudent},
		{name: "unbound", args: []string{"generatecards", "-count", "3"}, extra: 3},
		{name: "bound", args: []string{"generatecards", "-count", "2", "-student", student.ID}, extra: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out.Reset()
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
			if want, ok := tt.extra.(int); ok {
				lines := strings.Split(strings.TrimSpace(out.String()), "\n")
				require.Len(t, lines, want+1)
				assert.True(t, strings.HasPrefix(lines[0], "PIN"))
				for _, line := range lines[1:] {
					assert.Regexp(t, `^\d{4}-\d{4}-\d{4}\s+3\s+`, line)
				}
			}
		})
	}

	cards, err := cli.cardSvc.Query(context.Background(), scratchcard.QueryFilter{StudentID: student.ID}, nil)
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}
