package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	catalogdomain "github.com/factline/factline/internal/catalog/domain"
	"github.com/factline/factline/internal/drilldown"
	linkdomain "github.com/factline/factline/internal/link/domain"
	pointdomain "github.com/factline/factline/internal/point/domain"
	"github.com/factline/factline/internal/query"
	segmentdomain "github.com/factline/factline/internal/segment/domain"
	"github.com/factline/factline/internal/upload"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isUnprocessableError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Message: unwrapCode(err),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "rate limited",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isPointValidationError(err),
		isUploadValidationError(err),
		isQueryValidationError(err),
		isCatalogValidationError(err),
		isLinkValidationError(err),
		isSegmentValidationError(err),
		errors.Is(err, drilldown.ErrBucketWithoutWidth):
		return true
	default:
		return false
	}
}

func isPointValidationError(err error) bool {
	return errors.Is(err, pointdomain.ErrEmptyBatch) ||
		errors.Is(err, pointdomain.ErrInvalidEntityKind) ||
		errors.Is(err, pointdomain.ErrInvalidEntityID) ||
		errors.Is(err, pointdomain.ErrInvalidMetricKey) ||
		errors.Is(err, pointdomain.ErrInvalidDataSourceID) ||
		errors.Is(err, pointdomain.ErrInvalidDate) ||
		errors.Is(err, pointdomain.ErrInvalidValue) ||
		errors.Is(err, pointdomain.ErrInvalidDimensionKey)
}

func isUploadValidationError(err error) bool {
	return errors.Is(err, upload.ErrInvalidDataSourceID) ||
		errors.Is(err, upload.ErrInvalidFileName) ||
		errors.Is(err, upload.ErrEmptyFile)
}

func isQueryValidationError(err error) bool {
	return errors.Is(err, query.ErrInvalidMetricKey) ||
		errors.Is(err, query.ErrInvalidAgg) ||
		errors.Is(err, query.ErrInvalidBucket) ||
		errors.Is(err, query.ErrMissingRange) ||
		errors.Is(err, query.ErrInvalidRange) ||
		errors.Is(err, query.ErrInvalidGroupBy) ||
		errors.Is(err, query.ErrInvalidDimensionKey)
}

func isCatalogValidationError(err error) bool {
	return errors.Is(err, catalogdomain.ErrInvalidMetricKey) ||
		errors.Is(err, catalogdomain.ErrInvalidLabel) ||
		errors.Is(err, catalogdomain.ErrInvalidDataSourceID)
}

func isLinkValidationError(err error) bool {
	return errors.Is(err, linkdomain.ErrInvalidLinkType) ||
		errors.Is(err, linkdomain.ErrInvalidLinkID)
}

func isSegmentValidationError(err error) bool {
	return errors.Is(err, segmentdomain.ErrInvalidKey) ||
		errors.Is(err, segmentdomain.ErrInvalidEntityKind) ||
		errors.Is(err, segmentdomain.ErrInvalidRule)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, catalogdomain.ErrMetricNotFound),
		errors.Is(err, catalogdomain.ErrDataSourceNotFound),
		errors.Is(err, linkdomain.ErrNotFound),
		errors.Is(err, segmentdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// Unprocessable requests are well-formed but name something the
// backend cannot evaluate, like an adapter-less computed metric.
func isUnprocessableError(err error) bool {
	switch {
	case errors.Is(err, query.ErrMetricNotComputed),
		errors.Is(err, query.ErrUnsupportedAgg),
		errors.Is(err, query.ErrUnsupportedFilter),
		errors.Is(err, segmentdomain.ErrUnknownRuleKind):
		return true
	default:
		return false
	}
}

func unwrapCode(err error) string {
	switch {
	case errors.Is(err, query.ErrMetricNotComputed):
		return "metric_not_computed"
	case errors.Is(err, query.ErrUnsupportedAgg):
		return "unsupported_agg"
	case errors.Is(err, query.ErrUnsupportedFilter):
		return "unsupported_filter"
	case errors.Is(err, segmentdomain.ErrUnknownRuleKind):
		return "unknown_segment_rule_kind"
	default:
		return err.Error()
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}

	// Ingest errors arrive wrapped with the offending slot index;
	// unwrap down to the sentinel for a stable code.
	for unwrapped := err; unwrapped != nil; unwrapped = errors.Unwrap(unwrapped) {
		err = unwrapped
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "empty_batch":
		return "at least one point is required"
	case "empty_file":
		return "uploaded file has no rows"
	case "missing_range":
		return "bucketed queries require start and end"
	default:
		return "invalid value"
	}
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
