package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/rendis/diagrammer/pkg/schema"
)

// statusFor maps an error code to its HTTP status.
func statusFor(err error) int {
	switch schema.CodeOf(err) {
	case schema.ErrCodeValidation, schema.ErrCodeMalformedSpecification:
		return http.StatusBadRequest
	case schema.ErrCodeValidationViolation, schema.ErrCodeRetryExhausted:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConversationClosed, schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	case schema.ErrCodeOverloaded:
		return http.StatusTooManyRequests
	case schema.ErrCodeGenerationUnavailable, schema.ErrCodeCircuitOpen:
		return http.StatusServiceUnavailable
	case schema.ErrCodeGenerationTimeout:
		return http.StatusGatewayTimeout
	case schema.ErrCodeCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, status int, err error) {
	resp := ErrorResponse{Error: err.Error(), Code: schema.CodeOf(err), RequestID: requestID(c)}
	var de *schema.DiagramError
	if errors.As(err, &de) {
		resp.Error = de.Message
		resp.Details = de.Details
	}
	if resp.Code == "" {
		resp.Code = schema.ErrCodeInternal
	}
	c.AbortWithStatusJSON(status, resp)
}

// bindError reports a request body that failed binding. Field level
// failures are listed under details.
func bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		abortWithError(c, http.StatusBadRequest, schema.NewErrorf(schema.ErrCodeValidation, "invalid request body: %s", err.Error()))
		return
	}
	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	abortWithError(c, http.StatusUnprocessableEntity,
		schema.NewError(schema.ErrCodeValidation, "request validation failed").WithDetails(fields))
}
