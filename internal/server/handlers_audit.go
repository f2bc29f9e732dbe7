package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fintrustlab/txgate/internal/apperr"
	"github.com/fintrustlab/txgate/internal/audit"
	"github.com/fintrustlab/txgate/internal/pagination"
)

// listAuditLogsHandler queries the ledger. The response echoes a snapshot
// bound; clients paginating pass it back as ?before= so pages stay stable
// while events keep being appended.
func (s *Server) listAuditLogsHandler(c *gin.Context) {
	filter := audit.Filter{
		ActorID:    c.Query("userId"),
		Action:     audit.Action(c.Query("action")),
		ResourceID: c.Query("resourceId"),
	}

	var err error
	if filter.From, err = parseTime(c.Query("startDate")); err != nil {
		respondError(c, apperr.Validation("startDate must be RFC 3339"))
		return
	}
	if filter.To, err = parseTime(c.Query("endDate")); err != nil {
		respondError(c, apperr.Validation("endDate must be RFC 3339"))
		return
	}
	if filter.Before, err = parseTime(c.Query("before")); err != nil {
		respondError(c, apperr.Validation("before must be RFC 3339"))
		return
	}

	s.queryAudit(c, filter)
}

// userActivityHandler lists one user's audit trail, newest first.
func (s *Server) userActivityHandler(c *gin.Context) {
	filter := audit.Filter{ActorID: c.Param("userId")}

	var err error
	if filter.Before, err = parseTime(c.Query("before")); err != nil {
		respondError(c, apperr.Validation("before must be RFC 3339"))
		return
	}

	s.queryAudit(c, filter)
}

func (s *Server) queryAudit(c *gin.Context, filter audit.Filter) {
	p := pagination.Parse(c.Query("page"), c.Query("limit"))

	events, page, snapshot, err := s.ledger.Query(c.Request.Context(), filter, p)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, "", gin.H{
		"logs":       events,
		"pagination": page,
		"before":     snapshot.UTC().Format(time.RFC3339Nano),
	})
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
