package server

import (
	"github.com/gin-gonic/gin"

	"github.com/fintrustlab/txgate/internal/apperr"
	"github.com/fintrustlab/txgate/internal/pagination"
	"github.com/fintrustlab/txgate/internal/transaction"
	"github.com/fintrustlab/txgate/internal/validation"
)

func (s *Server) createTransactionHandler(c *gin.Context) {
	var in transaction.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}
	in.Description = validation.SanitizeString(in.Description, 500)

	rec, err := s.transactions.Create(c.Request.Context(), actorFrom(c), in)
	if err != nil {
		respondError(c, err)
		return
	}

	respondCreated(c, "Transaction created", gin.H{"transaction": rec})
}

func (s *Server) listMyTransactionsHandler(c *gin.Context) {
	p := pagination.Parse(c.Query("page"), c.Query("limit"))

	recs, page, err := s.transactions.ListMine(c.Request.Context(), actorFrom(c), p)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "", gin.H{"transactions": recs, "pagination": page})
}

func (s *Server) getTransactionHandler(c *gin.Context) {
	rec, err := s.transactions.Get(c.Request.Context(), actorFrom(c), c.Param("transactionId"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "", gin.H{"transaction": rec})
}

func (s *Server) listPendingApprovalsHandler(c *gin.Context) {
	p := pagination.Parse(c.Query("page"), c.Query("limit"))

	recs, page, err := s.transactions.ListPending(c.Request.Context(), actorFrom(c), p)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "", gin.H{"transactions": recs, "pagination": page})
}

func (s *Server) approveTransactionHandler(c *gin.Context) {
	s.resolveTransaction(c, transaction.DecisionApprove, "Transaction approved")
}

func (s *Server) rejectTransactionHandler(c *gin.Context) {
	s.resolveTransaction(c, transaction.DecisionReject, "Transaction rejected")
}

func (s *Server) resolveTransaction(c *gin.Context, decision transaction.Decision, message string) {
	rec, err := s.transactions.Resolve(c.Request.Context(), actorFrom(c), c.Param("transactionId"), decision)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, message, gin.H{"transaction": rec})
}
