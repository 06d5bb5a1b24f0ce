package user_test

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-results/core"
	"github.com/trezcool/masomo-results/core/user"
	"github.com/trezcool/masomo-results/storage/database/inmemdb"
)

const validPwd = "Str0ng!Pass"

func setup(t *testing.T) (*user.Service, *validator.Validate) {
	t.Helper()
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	return user.NewService(inmemdb.NewUserRepository(inmemdb.Open())), validate
}

func newUser() user.NewUser {
	return user.NewUser{
		Name:            "John Doe",
		Username:        "johndoe",
		Email:           "johndoe@masomo.local",
		Password:        validPwd,
		PasswordConfirm: validPwd,
		Roles:           []string{user.RoleStudent},
	}
}

func TestNewUser_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(nu *user.NewUser)
		wantTag string
	}{
		{name: "valid"},
		{name: "missing name", modify: func(nu *user.NewUser) { nu.Name = "  " }, wantTag: "required"},
		{name: "short username", modify: func(nu *user.NewUser) { nu.Username = "jd" }, wantTag: "min"},
		{name: "invalid email", modify: func(nu *user.NewUser) { nu.Email = "nope" }, wantTag: "email"},
		{name: "unknown role", modify: func(nu *user.NewUser) { nu.Roles = []string{"janitor:"} }, wantTag: "allroles"},
		{name: "no username nor email", modify: func(nu *user.NewUser) { nu.Username, nu.Email = "", "" }, wantTag: "username_or_email"},
		{name: "passwords differ", modify: func(nu *user.NewUser) { nu.PasswordConfirm = "other" }, wantTag: "eqfield"},
		{name: "short password", modify: func(nu *user.NewUser) { setPwd(nu, "Ab1!") }, wantTag: "pwdminlen"},
		{name: "password with space", modify: func(nu *user.NewUser) { setPwd(nu, "Str0ng Pass") }, wantTag: "pwdnospace"},
		{name: "numeric password", modify: func(nu *user.NewUser) { setPwd(nu, "1234567890") }, wantTag: "pwdnotallnum"},
		{name: "password similar to username", modify: func(nu *user.NewUser) { setPwd(nu, "johndoe1") }, wantTag: "pwdtoosim"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, validate := setup(t)
			nu := newUser()
			if tt.modify != nil {
				tt.modify(&nu)
			}

			err := nu.Validate(context.Background(), validate, svc)
			if tt.wantTag == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			verrs, ok := err.(validator.ValidationErrors)
			require.True(t, ok, "unexpected error: %v", err)
			tags := make([]string, len(verrs))
			for i, fe := range verrs {
				tags[i] = fe.Tag()
			}
			assert.Contains(t, tags, tt.wantTag)
		})
	}
}

func setPwd(nu *user.NewUser, pwd string) {
	nu.Password = pwd
	nu.PasswordConfirm = pwd
}

func TestNewUser_Validate_Uniqueness(t *testing.T) {
	ctx := context.Background()
	svc, validate := setup(t)

	nu := newUser()
	require.NoError(t, nu.Validate(ctx, validate, svc))
	_, err := svc.Create(ctx, nu)
	require.NoError(t, err)

	dup := newUser()
	dup.Email = "other@masomo.local"
	err = dup.Validate(ctx, validate, svc)
	require.True(t, core.IsValidationError(err))
	assert.Equal(t, "username", err.(*core.ValidationError).Fields[0].Field)

	dup = newUser()
	dup.Username = "otheruser"
	err = dup.Validate(ctx, validate, svc)
	require.True(t, core.IsValidationError(err))
	assert.Equal(t, "email", err.(*core.ValidationError).Fields[0].Field)
}

func TestService(t *testing.T) {
	ctx := context.Background()
	svc, _ := setup(t)

	usr, err := svc.Create(ctx, newUser())
	require.NoError(t, err)
	assert.NotEmpty(t, usr.ID)
	assert.True(t, usr.IsActive)
	assert.True(t, usr.IsStudent())
	assert.False(t, usr.IsAdmin())
	assert.NoError(t, usr.CheckPassword(validPwd))

	got, err := svc.GetByUsernameOrEmail(ctx, " JohnDoe@Masomo.local ")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)

	got, err = svc.GetByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, "johndoe", got.Username)

	_, err = svc.GetByUsernameOrEmail(ctx, "nobody")
	assert.Equal(t, user.ErrNotFound, err)
	_, err = svc.GetByUsernameOrEmail(ctx, "   ")
	assert.Equal(t, user.ErrNotFound, err)

	got, err = svc.SetLastLogin(ctx, got)
	require.NoError(t, err)
	assert.False(t, got.LastLogin.IsZero())

	require.NoError(t, svc.SetPassword(ctx, "johndoe", "An0ther!Secret"))
	got, err = svc.GetByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.NoError(t, got.CheckPassword("An0ther!Secret"))
	assert.Error(t, got.CheckPassword(validPwd))
}

func TestValidatePassword(t *testing.T) {
	usr := user.User{Name: "John Doe", Username: "johndoe", Email: "johndoe@masomo.local"}
	assert.NoError(t, user.ValidatePassword(validPwd, usr))
	assert.True(t, core.IsValidationError(user.ValidatePassword("short", usr)))
	assert.True(t, core.IsValidationError(user.ValidatePassword("johndoe!", usr)))
}

func TestMaxRolePriority(t *testing.T) {
	assert.Equal(t, 30, user.MaxRolePriority([]string{user.RoleStudent, user.RoleAdminOwner}))
	assert.Equal(t, 0, user.MaxRolePriority(nil))
}
