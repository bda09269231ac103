package server

import (
	"errors"
	"net/http"

	"market-platform/src/helpers"
	"market-platform/src/models"
	"market-platform/src/obbject"

	"github.com/gin-gonic/gin"
)

// StatusFor maps a command error to its HTTP status.
func StatusFor(err error) int {
	switch helpers.Kind(err) {
	case helpers.KindNone, helpers.KindEmptyData:
		return http.StatusOK
	case helpers.KindUnauthorized:
		return http.StatusUnauthorized
	case helpers.KindRateLimited:
		return http.StatusTooManyRequests
	case helpers.KindValidation:
		return http.StatusUnprocessableEntity
	case helpers.KindProvider:
		return http.StatusBadGateway
	case helpers.KindUnsupportedCombination:
		return http.StatusBadRequest
	case helpers.KindCancelled:
		return 499
	}
	return http.StatusInternalServerError
}

// -----------------------------------------------------------------------------

type errorBody struct {
	Kind      string   `json:"kind"`
	Detail    string   `json:"detail"`
	Field     string   `json:"field,omitempty"`
	Providers []string `json:"providers,omitempty"`
}

// writeError renders err. EmptyData becomes an envelope with no results and
// one warning.
func writeError(c *gin.Context, path string, err error) {
	status := StatusFor(err)

	if helpers.Kind(err) == helpers.KindEmptyData {
		o := obbject.New(nil)
		o.SetRoute(path)
		o.Warnings = []models.MWarning{{Category: "EmptyDataWarning", Message: err.Error()}}
		c.JSON(status, o)
		return
	}

	body := errorBody{Kind: string(helpers.Kind(err)), Detail: err.Error()}
	var (
		invalid *helpers.ValidationError
		unsupp  *helpers.UnsupportedCombinationError
		limited *helpers.RateLimitError
	)
	if errors.As(err, &invalid) {
		body.Field = invalid.Field
	}
	if errors.As(err, &unsupp) {
		body.Providers = unsupp.Providers
	}
	if errors.As(err, &limited) && limited.RetryAfter > 0 {
		c.Header("Retry-After", formatSeconds(limited.RetryAfter.Seconds()))
	}
	c.AbortWithStatusJSON(status, body)
}
