package handler

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/logger"
)

const principalKey = "principal"

// principal returns the authenticated caller, nil for anonymous requests
func principal(c echo.Context) *domain.Principal {
	p, _ := c.Get(principalKey).(*domain.Principal)
	return p
}

func bearerToken(c echo.Context) (string, bool) {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if h == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}

// Authenticate resolves the bearer token into a principal. When optional is
// set, requests without an Authorization header pass through anonymously; a
// header that is present must still be valid.
func Authenticate(identity domain.IdentityService, optional bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, present := bearerToken(c)
			if !present {
				if optional {
					return next(c)
				}
				return domain.ErrUnauthorized
			}
			if token == "" {
				return domain.ErrInvalidToken
			}
			p, err := identity.Resolve(c.Request().Context(), token)
			if err != nil {
				return err
			}
			c.Set(principalKey, p)
			return next(c)
		}
	}
}

// RequireAdmin lets only administrators with an admin role through
func RequireAdmin(identity domain.IdentityService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := identity.RequireAdmin(principal(c)); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// RequestLogger writes one structured line per request
func RequestLogger(log *logger.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			kv := []interface{}{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.RequestID != "" {
				kv = append(kv, "request_id", v.RequestID)
			}
			if p := principal(c); p != nil {
				kv = append(kv, "principal", p.ID)
			}
			if v.Error != nil {
				kv = append(kv, "error", v.Error)
				log.Warn("request", kv...)
				return nil
			}
			log.Info("request", kv...)
			return nil
		},
	})
}
