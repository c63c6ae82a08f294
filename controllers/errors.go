package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/audiohub/services"
	"github.com/cppla/audiohub/utils"
)

// respondError maps a service error onto a status and business code. Unclassified
// errors become a generic 500 so storage details never leak.
func respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		utils.Error(ctx, http.StatusNotFound, 40400, err.Error())
	case errors.Is(err, services.ErrAlreadyExists):
		utils.Error(ctx, http.StatusBadRequest, 40001, err.Error())
	case errors.Is(err, services.ErrInvalidCredential):
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
	case errors.Is(err, services.ErrTokenExpired):
		utils.Error(ctx, http.StatusUnauthorized, 40104, "token expired")
	case errors.Is(err, services.ErrTokenInvalid):
		utils.Error(ctx, http.StatusUnauthorized, 40105, "invalid token")
	case errors.Is(err, services.ErrForbidden):
		utils.Error(ctx, http.StatusForbidden, 40300, "forbidden")
	case errors.Is(err, services.ErrUnsupportedFileType):
		utils.Error(ctx, http.StatusUnprocessableEntity, 42201, err.Error())
	case errors.Is(err, services.ErrValidation):
		utils.Error(ctx, http.StatusUnprocessableEntity, 42202, err.Error())
	case errors.Is(err, services.ErrAuthProvider):
		utils.Error(ctx, http.StatusBadGateway, 50201, "identity provider error")
	case errors.Is(err, services.ErrProviderDisabled):
		utils.Error(ctx, http.StatusServiceUnavailable, 50301, "identity provider not configured")
	default:
		utils.Error(ctx, http.StatusInternalServerError, 50000, "internal server error")
	}
}

func invalidPayload(ctx *gin.Context) {
	utils.Error(ctx, http.StatusUnprocessableEntity, 42200, "invalid request payload")
}

// uintParam reads a positive numeric path parameter, answering 422 when it is not one.
func uintParam(ctx *gin.Context, name string) (uint, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(ctx.Param(name)), 10, 64)
	if err != nil || n == 0 {
		utils.Error(ctx, http.StatusUnprocessableEntity, 42203, "invalid "+name)
		return 0, false
	}
	return uint(n), true
}
