package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-results/core"
	"github.com/trezcool/masomo-results/core/session"
	metricsvc "github.com/trezcool/masomo-results/services/metrics"
)

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

func studentMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsStudent {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// sessionMiddleware rejects requests whose session is no longer monitored.
// With touch set, the request counts as user activity.
func sessionMiddleware(sessions *session.Tracker, touch bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}

			if touch {
				err = sessions.Touch(claims.Id)
			} else {
				_, err = sessions.Status(claims.Id)
			}
			switch errors.Cause(err) {
			case nil:
				return next(ctx)
			case session.ErrNotFound, session.ErrExpired, session.ErrStopped:
				return errSessionExpired
			}
			return errors.Wrap(err, "checking session")
		}
	}
}

func metricsMiddleware(m *metricsvc.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			err := next(ctx)
			status := ctx.Response().Status
			switch cause := errors.Cause(err).(type) {
			case nil:
			case *echo.HTTPError:
				status = cause.Code
			case validator.ValidationErrors, *core.ValidationError:
				status = http.StatusBadRequest
			default:
				status = http.StatusInternalServerError
			}
			m.HTTPRequests.WithLabelValues(ctx.Request().Method, ctx.Path(), strconv.Itoa(status)).Inc()
			return err
		}
	}
}
