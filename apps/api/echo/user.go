package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

type userApi struct {
	s *Server
}

func registerUserAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *Server) {
	api := userApi{s: s}

	ug := g.Group("/users")

	// un-authed endpoints
	ug.POST("/login", api.login)

	// authed endpoints
	ag := ug.Group("", jwt, sessionMiddleware(s.deps.Sessions, true))
	ag.POST("/logout", api.logout)
	ag.POST("/token-refresh", api.refreshToken)
	ag.GET("/me", api.me)
}

// login authenticates the user and starts the idle monitor of the new session.
func (api *userApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.s.deps.Validate); err != nil {
		return err
	}

	claims, err := api.s.authenticate(ctx.Request().Context(), data.Username, data.Password)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	token, err := api.s.GenerateToken(claims)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	if err = api.s.deps.Sessions.Start(claims.Id); err != nil {
		return errors.Wrap(err, "starting session monitor")
	}
	api.s.deps.Metrics.SessionsStarted.Inc()
	api.s.deps.Metrics.ActiveSessions.Set(float64(api.s.deps.Sessions.Len()))

	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *userApi) logout(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	api.s.deps.Sessions.End(claims.Id)
	api.s.deps.Metrics.ActiveSessions.Set(float64(api.s.deps.Sessions.Len()))
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) refreshToken(ctx echo.Context) error {
	token, err := api.s.refreshToken(ctx)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *userApi) me(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.s.deps.UserSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	return ctx.JSON(http.StatusOK, usr)
}
