package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fintrustlab/txgate/internal/apperr"
	"github.com/fintrustlab/txgate/internal/identity"
	"github.com/fintrustlab/txgate/internal/logging"
	"github.com/fintrustlab/txgate/internal/token"
	"github.com/fintrustlab/txgate/internal/transaction"
)

const ctxActor = "actor"

// response is the uniform envelope for all API responses.
type response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// authenticate verifies the bearer token and stashes the caller as an
// actor on the gin context. Verification is stateless; no storage lookup.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			abortError(c, apperr.Authentication("missing bearer token"))
			return
		}

		claims, err := s.issuer.Verify(strings.TrimPrefix(header, prefix))
		if err != nil {
			switch {
			case errors.Is(err, token.ErrExpired):
				abortError(c, apperr.Authentication("token expired"))
			case errors.Is(err, token.ErrSignatureInvalid):
				abortError(c, apperr.Authentication("invalid token signature"))
			default:
				abortError(c, apperr.Authentication("malformed token"))
			}
			return
		}

		role, ok := identity.ParseRole(claims.Role)
		if !ok {
			abortError(c, apperr.Authentication("token carries an unknown role"))
			return
		}

		c.Set(ctxActor, transaction.Actor{
			ID:                claims.UserID,
			Email:             claims.Email,
			Role:              role,
			TwoFactorVerified: claims.TwoFactorVerified,
		})
		c.Next()
	}
}

// requireApprover admits only admin and approver roles.
func (s *Server) requireApprover() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actorFrom(c).Role.CanApprove() {
			abortError(c, apperr.Authorization("approver or admin role required"))
			return
		}
		c.Next()
	}
}

// requireAdmin admits only the admin role.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actorFrom(c).Role != identity.RoleAdmin {
			abortError(c, apperr.Authorization("admin role required"))
			return
		}
		c.Next()
	}
}

// actorFrom returns the authenticated actor. Only valid on routes behind
// authenticate.
func actorFrom(c *gin.Context) transaction.Actor {
	actor, _ := c.Get(ctxActor)
	a, _ := actor.(transaction.Actor)
	return a
}

// respondError maps an error's kind to an HTTP status. Internal detail is
// logged server-side and never surfaced.
func respondError(c *gin.Context, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) {
		e = apperr.Internal("unexpected error", err)
	}

	message := e.Message
	if e.Kind == apperr.KindInternal {
		logging.L(c.Request.Context()).Error("request failed", "error", err)
		message = "An unexpected error occurred"
	}
	if e.Kind == apperr.KindAccountLocked && e.RetryAfter > 0 {
		seconds := int(e.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
	}

	c.JSON(statusFor(e.Kind), response{Success: false, Message: message})
}

func abortError(c *gin.Context, err error) {
	respondError(c, err)
	c.Abort()
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindAccountLocked:
		return http.StatusLocked
	case apperr.KindStepUpRequired, apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondOK(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, response{Success: true, Message: message, Data: data})
}

func respondCreated(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, response{Success: true, Message: message, Data: data})
}
