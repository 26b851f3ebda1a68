package handler

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/logger"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindExhausted:
		return http.StatusConflict
	case domain.KindExpired:
		return http.StatusGone
	case domain.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewHTTPErrorHandler returns an echo.HTTPErrorHandler that renders business
// errors with their kind's status and hides everything else behind a 500.
func NewHTTPErrorHandler(log *logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, body := render(err)
		if code >= http.StatusInternalServerError {
			log.Error("request failed",
				"method", c.Request().Method,
				"uri", c.Request().RequestURI,
				"status", code,
				"error", err,
			)
		}

		var sendErr error
		if c.Request().Method == http.MethodHead {
			sendErr = c.NoContent(code)
		} else {
			sendErr = c.JSON(code, body)
		}
		if sendErr != nil {
			log.Warn("writing error response failed", "error", sendErr)
		}
	}
}

func render(err error) (int, ErrorResponse) {
	var (
		de    *domain.Error
		verrs validator.ValidationErrors
		he    *echo.HTTPError
	)
	switch {
	case errors.As(err, &de):
		return StatusFor(de.Kind), ErrorResponse{Error: de.Message, Code: de.Code}

	case errors.As(err, &verrs):
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Translate(translator)
		}
		return http.StatusBadRequest, ErrorResponse{Error: "validation failed", Code: "invalid_input", Fields: fields}

	case errors.As(err, &he):
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		return he.Code, ErrorResponse{Error: msg, Code: codeForStatus(he.Code)}

	default:
		return http.StatusInternalServerError, ErrorResponse{
			Error: http.StatusText(http.StatusInternalServerError),
			Code:  "internal",
		}
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return domain.KindInvalidInput.String()
	case http.StatusUnauthorized:
		return domain.KindUnauthorized.String()
	case http.StatusForbidden:
		return domain.KindForbidden.String()
	case http.StatusNotFound:
		return domain.KindNotFound.String()
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusServiceUnavailable:
		return domain.KindUnavailable.String()
	default:
		return "internal"
	}
}
