package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/modelexchange/mxf/pkg/mxerr"
	"github.com/modelexchange/mxf/pkg/store"
)

// mapServiceError maps service-layer errors to HTTP error responses. The
// structured code travels in the message so clients keep the machine-
// readable identifier.
func mapServiceError(err error) *echo.HTTPError {
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	switch mxerr.CodeOf(err) {
	case mxerr.CodeValidationError, mxerr.CodeMissingRequired:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case mxerr.CodeNotFound, mxerr.CodeToolNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case mxerr.CodeAlreadyExists:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case mxerr.CodeAuthInvalidKey, mxerr.CodeAuthExpired, mxerr.CodeAuthMissing:
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case mxerr.CodeToolForbidden:
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case mxerr.CodeQuotaExceeded, mxerr.CodeRateLimited:
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case mxerr.CodeTimeout:
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case mxerr.CodeOperationFailed:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
