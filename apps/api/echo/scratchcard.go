package echoapi

import (
	"fmt"
	"net/http"
	"net/mail"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-results/core"
	"github.com/trezcool/masomo-results/core/scratchcard"
	"github.com/trezcool/masomo-results/core/user"
)

// rejection status codes
var redeemStatusCodes = map[scratchcard.Status]int{
	scratchcard.StatusInvalidPin:         http.StatusBadRequest,
	scratchcard.StatusStudentMismatch:    http.StatusForbidden,
	scratchcard.StatusCardExpired:        http.StatusGone,
	scratchcard.StatusUsageLimitExceeded: http.StatusTooManyRequests,
}

type scratchCardApi struct {
	s *Server
}

func registerScratchCardAPI(g *echo.Group, jwt echo.MiddlewareFunc, s *Server) {
	api := scratchCardApi{s: s}
	activity := sessionMiddleware(s.deps.Sessions, true)

	g.POST("/results/check", api.redeem, jwt, activity, studentMiddleware())

	cg := g.Group("/scratchcards", jwt, activity, adminMiddleware())
	cg.POST("", api.generate)
	cg.GET("", api.query)
}

// redeem consumes one use of a scratch card for the authenticated student.
// Granting access to the result sheet is left to the caller.
func (api *scratchCardApi) redeem(ctx echo.Context) error {
	var data RedeemRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RedeemRequest")
	}
	if err := data.Validate(api.s.deps.Validate); err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	out, err := api.s.deps.CardSvc.Redeem(ctx.Request().Context(), data.Pin, claims.Subject, core.Now())
	if err != nil {
		return errors.Wrap(err, "redeeming scratch card")
	}
	api.s.deps.Metrics.ObserveRedemption(out.Status.String())

	if !out.OK() {
		return echo.NewHTTPError(redeemStatusCodes[out.Status], echo.Map{
			"error": out.Status.Message(),
			"code":  out.Status.String(),
		})
	}
	return ctx.JSON(http.StatusOK, RedeemResponse{
		Status:        out.Status.String(),
		RemainingUses: out.RemainingUses,
		UsageCount:    out.Card.UsageCount,
		UsageLimit:    out.Card.UsageLimit,
		ExpiresAt:     out.Card.ExpiresAt().Format(time.RFC3339),
	})
}

func (api *scratchCardApi) generate(ctx echo.Context) error {
	var data scratchcard.NewBatch
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBatch")
	}
	data.Clean()
	if err := api.s.deps.Validate.Struct(data); err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	if data.StudentID != "" {
		student, err := api.s.deps.UserSvc.GetByID(reqCtx, data.StudentID)
		if err != nil && errors.Cause(err) != user.ErrNotFound {
			return errors.Wrap(err, "finding student")
		}
		if err != nil || !student.IsStudent() {
			return core.NewFieldValidationError("student_id", "student not found")
		}
	}

	cards, err := api.s.deps.CardSvc.Generate(reqCtx, data.Count, core.Now(), data.StudentID)
	if err != nil {
		return errors.Wrap(err, "generating scratch cards")
	}
	api.s.deps.Metrics.CardsGenerated.Add(float64(len(cards)))

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	api.s.deps.CardSvc.SendBatchMail(mail.Address{Name: claims.Username, Address: claims.Email}, cards)
	api.s.deps.Logger.Info(fmt.Sprintf("%d scratch card(s) generated by %s", len(cards), claims.Username))

	return ctx.JSON(http.StatusCreated, cards)
}

func (api *scratchCardApi) query(ctx echo.Context) error {
	filter := new(scratchcard.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []scratchcard.ScratchCard{})
	}
	filter.Clean()

	cards, err := api.s.deps.CardSvc.Query(ctx.Request().Context(), *filter, bindOrdering(ctx))
	if err != nil {
		return errors.Wrap(err, "querying scratch cards")
	}
	if cards == nil {
		cards = []scratchcard.ScratchCard{}
	}
	return ctx.JSON(http.StatusOK, cards)
}
