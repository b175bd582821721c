package handler

import (
	"errors"
	"net/http"

	"vnml-server/shared/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleServiceError переводит ошибку движка в HTTP-статус и models.ErrorResponse.
func handleServiceError(c *gin.Context, err error, logger *zap.Logger) {
	statusCode, errResp := mapServiceError(err)
	if statusCode >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Int("status", statusCode), zap.Error(err))
	}
	c.AbortWithStatusJSON(statusCode, errResp)
}

func mapServiceError(err error) (int, models.ErrorResponse) {
	var (
		schemaErr  *models.SchemaError
		contErr    *models.ContinuityError
		setupErr   *models.SetupError
		warning    *models.ContentPolicyWarning
		unknownErr *models.UnknownActionError
		engineErr  *models.EngineError
	)
	var retries *int
	if errors.As(err, &engineErr) {
		retries = models.IntPtr(engineErr.Retries)
	}

	switch {
	// Таймаут проверяется раньше EngineError: исчерпанные попытки по таймауту - это 504.
	case errors.Is(err, models.ErrGeneratorTimeout):
		return http.StatusGatewayTimeout, models.ErrorResponse{Code: models.ErrCodeTimeout, Message: err.Error(), Retries: retries}
	case engineErr != nil:
		return http.StatusBadGateway, models.ErrorResponse{Code: models.ErrCodeEngine, Message: err.Error(), Kind: kindOf(engineErr.Cause), Retries: retries}
	case errors.As(err, &schemaErr):
		return http.StatusUnprocessableEntity, models.ErrorResponse{Code: models.ErrCodeSchema, Message: err.Error(), Kind: string(schemaErr.Kind)}
	case errors.As(err, &contErr):
		return http.StatusUnprocessableEntity, models.ErrorResponse{Code: models.ErrCodeContinuity, Message: err.Error(), Kind: string(contErr.Kind)}
	case errors.As(err, &warning):
		return http.StatusUnprocessableEntity, models.ErrorResponse{Code: models.ErrCodeSchema, Message: err.Error(), Kind: warning.Rule}
	case errors.As(err, &setupErr):
		return http.StatusUnprocessableEntity, models.ErrorResponse{Code: models.ErrCodeSetup, Message: err.Error(), Kind: setupErr.Element}
	case errors.As(err, &unknownErr):
		return http.StatusUnprocessableEntity, models.ErrorResponse{Code: models.ErrCodeUnknownAction, Message: err.Error()}
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, models.ErrorResponse{Code: models.ErrCodeNotFound, Message: "Session or turn not found"}
	case errors.Is(err, models.ErrSessionBusy),
		errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrNoPendingTurn),
		errors.Is(err, models.ErrSessionClosed),
		errors.Is(err, models.ErrSequenceConflict),
		errors.Is(err, models.ErrAlreadyExists):
		return http.StatusConflict, models.ErrorResponse{Code: models.ErrCodeConflict, Message: err.Error()}
	case errors.Is(err, models.ErrBadRequest), errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, models.ErrorResponse{Code: models.ErrCodeBadRequest, Message: err.Error()}
	default:
		return http.StatusInternalServerError, models.ErrorResponse{Code: models.ErrCodeInternal, Message: "An unexpected internal error occurred"}
	}
}

// kindOf возвращает вид исходного нарушения для EngineError.
func kindOf(err error) string {
	var (
		schemaErr *models.SchemaError
		contErr   *models.ContinuityError
		warning   *models.ContentPolicyWarning
	)
	switch {
	case errors.As(err, &schemaErr):
		return string(schemaErr.Kind)
	case errors.As(err, &contErr):
		return string(contErr.Kind)
	case errors.As(err, &warning):
		return warning.Rule
	default:
		return ""
	}
}
