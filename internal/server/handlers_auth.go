package server

import (
	"github.com/gin-gonic/gin"

	"github.com/fintrustlab/txgate/internal/apperr"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type userSummary struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Role             string `json:"role"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
}

func (s *Server) registerHandler(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	ident, err := s.identities.Register(c.Request.Context(), req.Email, req.Password, req.Role)
	if err != nil {
		respondError(c, err)
		return
	}

	respondCreated(c, "User registered successfully", gin.H{
		"id":    ident.ID,
		"email": ident.Email,
		"role":  ident.Role,
	})
}

func (s *Server) loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	ident, err := s.identities.VerifyCredentials(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	// A password login only ever yields a partial token. Accounts with
	// step-up enabled must verify a code to elevate it.
	bearer, err := s.issuer.IssuePartial(ident.ID, ident.Email, string(ident.Role))
	if err != nil {
		respondError(c, apperr.Internal("issuing token", err))
		return
	}

	message := "Login successful"
	if ident.TwoFactorEnabled {
		message = "2FA verification required"
	}

	respondOK(c, message, gin.H{
		"token":       bearer,
		"requires2FA": ident.TwoFactorEnabled,
		"user": userSummary{
			ID:               ident.ID,
			Email:            ident.Email,
			Role:             string(ident.Role),
			TwoFactorEnabled: ident.TwoFactorEnabled,
		},
	})
}

func (s *Server) setupStepUpHandler(c *gin.Context) {
	actor := actorFrom(c)

	enrollment, err := s.stepup.BeginEnrollment(c.Request.Context(), actor.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "2FA secret generated", enrollment)
}

func (s *Server) enableStepUpHandler(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	actor := actorFrom(c)
	if err := s.stepup.ConfirmEnrollment(c.Request.Context(), actor.ID, req.Code); err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "2FA enabled successfully", nil)
}

func (s *Server) verifyStepUpHandler(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	actor := actorFrom(c)
	if err := s.stepup.VerifyCode(c.Request.Context(), actor.ID, req.Code); err != nil {
		respondError(c, err)
		return
	}

	// Elevation: mint a full token carrying the step-up claim.
	bearer, err := s.issuer.IssueFull(actor.ID, actor.Email, string(actor.Role))
	if err != nil {
		respondError(c, apperr.Internal("issuing token", err))
		return
	}

	respondOK(c, "2FA verification successful", gin.H{"token": bearer})
}

func (s *Server) disableStepUpHandler(c *gin.Context) {
	actor := actorFrom(c)

	if err := s.stepup.Disable(c.Request.Context(), actor.ID); err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "2FA disabled successfully", nil)
}
