package echoapi

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo-results/core"
)

const orderingParam = "ordering"

// bindOrdering parses `?ordering=field,-other`; a leading "-" means descending.
func bindOrdering(ctx echo.Context) []core.DBOrdering {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return nil
	}

	var orderings []core.DBOrdering
	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		field = strings.TrimPrefix(field, "-")
		if field == "" {
			continue
		}
		orderings = append(orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
	return orderings
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token string `json:"token"`
	}

	RedeemRequest struct {
		Pin string `json:"pin" validate:"required"`
	}

	RedeemResponse struct {
		Status        string `json:"status"`
		RemainingUses int    `json:"remaining_uses"`
		UsageCount    int    `json:"usage_count"`
		UsageLimit    int    `json:"usage_limit"`
		ExpiresAt     string `json:"expires_at"`
	}

	SessionResponse struct {
		State            string `json:"state"`
		LastActivityAt   string `json:"last_activity_at"`
		ExpiresAt        string `json:"expires_at"`
		RemainingSeconds int    `json:"remaining_seconds"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return validate.Struct(lr)
}

func (rr *RedeemRequest) Validate(validate *validator.Validate) error {
	rr.Pin = core.CleanString(rr.Pin)
	return validate.Struct(rr)
}
