package response

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/storystudio/internal/model"
)

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeConflict        = "CONFLICT"
	CodeLocked          = "LOCKED"
	CodeBusy            = "BUSY"
	CodeStorageError    = "STORAGE_ERROR"
	CodeServiceError    = "SERVICE_ERROR"
	CodeProviderError   = "PROVIDER_ERROR"
	CodeCanceled        = "CANCELED"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string      `json:"code"`
	Kind      model.Kind  `json:"kind,omitempty"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func Error(c *fiber.Ctx, status int, code, message string, details interface{}) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func ValidationError(c *fiber.Ctx, message string, details interface{}) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

// kindStatus maps error kinds to the HTTP status and code they are served with
var kindStatus = map[model.Kind]struct {
	status int
	code   string
}{
	model.KindInvalidRequest:     {fiber.StatusBadRequest, CodeValidationError},
	model.KindNotFound:           {fiber.StatusNotFound, CodeNotFound},
	model.KindLocked:             {fiber.StatusLocked, CodeLocked},
	model.KindBusy:               {fiber.StatusConflict, CodeBusy},
	model.KindGatePredicateUnmet: {fiber.StatusConflict, CodeConflict},
	model.KindInvariantViolation: {fiber.StatusUnprocessableEntity, CodeValidationError},
	model.KindQuota:              {fiber.StatusInsufficientStorage, CodeStorageError},
	model.KindCorrupt:            {fiber.StatusInternalServerError, CodeStorageError},
	model.KindRateLimited:        {fiber.StatusTooManyRequests, CodeRateLimited},
	model.KindCanceled:           {fiber.StatusConflict, CodeCanceled},
	model.KindTimeout:            {fiber.StatusGatewayTimeout, CodeProviderError},
	model.KindUnavailable:        {fiber.StatusServiceUnavailable, CodeProviderError},
	model.KindUnauthorized:       {fiber.StatusBadGateway, CodeProviderError},
	model.KindTransient:          {fiber.StatusBadGateway, CodeProviderError},
	model.KindEmptyResponse:      {fiber.StatusBadGateway, CodeProviderError},
	model.KindInvalidShape:       {fiber.StatusBadGateway, CodeProviderError},
}

// FromError writes err with the status its kind maps to.
func FromError(c *fiber.Ctx, err error) error {
	kind := model.KindOf(err)
	m, ok := kindStatus[kind]
	if !ok {
		m.status, m.code = fiber.StatusInternalServerError, CodeServiceError
	}
	detail := ErrorDetail{
		Code:      m.code,
		Kind:      kind,
		Message:   err.Error(),
		Retryable: model.IsRetryable(err),
	}
	var e *model.Error
	if errors.As(err, &e) {
		if e.Message != "" {
			detail.Message = e.Message
		}
		if e.RetryAfter > 0 {
			c.Set("Retry-After", fmt.Sprintf("%d", int(e.RetryAfter.Seconds()+0.5)))
		}
	}
	return c.Status(m.status).JSON(ErrorResponse{Error: detail})
}

func OK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(data)
}

func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(data)
}

func Accepted(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(data)
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
