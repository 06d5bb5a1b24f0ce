package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-results/core/session"
)

type sessionApi struct {
	sessions *session.Tracker
}

func registerSessionAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *Server) {
	api := sessionApi{sessions: s.deps.Sessions}

	sg := g.Group("/session", jwt)
	// polling the countdown is not user activity
	sg.GET("", api.status, sessionMiddleware(s.deps.Sessions, false))
	sg.POST("/keep-alive", api.keepAlive, sessionMiddleware(s.deps.Sessions, false))
}

func (api *sessionApi) status(ctx echo.Context) error {
	return api.respond(ctx)
}

// keepAlive is the "continue session" action of the warning prompt.
func (api *sessionApi) keepAlive(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if err = api.sessions.Reset(claims.Id); err != nil {
		return errSessionExpired
	}
	return api.respond(ctx)
}

func (api *sessionApi) respond(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	st, err := api.sessions.Status(claims.Id)
	if err != nil {
		return errSessionExpired
	}
	return ctx.JSON(http.StatusOK, SessionResponse{
		State:            st.State.String(),
		LastActivityAt:   st.LastActivityAt.UTC().Format(time.RFC3339),
		ExpiresAt:        st.ExpiresAt.UTC().Format(time.RFC3339),
		RemainingSeconds: int((st.Remaining + time.Second - 1) / time.Second),
	})
}
