package server

import (
	"net/http"

	"github.com/divetrail/concierge/internal/providers/assistant"
	quotadomain "github.com/divetrail/concierge/internal/quota/domain"
	ticketdomain "github.com/divetrail/concierge/internal/ticket/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type contributionGrantRequest struct {
	OwnerID  string `json:"owner_id"`
	Reason   string `json:"reason"`
	Category string `json:"category"`
}

type manualGrantRequest struct {
	OwnerID string `json:"owner_id"`
}

type askRequest struct {
	Query   string `json:"query"`
	History []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"history"`
}

// GrantDaily issues the login bonus for the session owner. Idempotent per
// calendar day; the response reports whether a ticket was actually granted.
func (s *Server) GrantDaily(c *gin.Context) {
	owner, ok := sessionOwner(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	granted, err := s.ticketSvc.GrantDaily(c.Request.Context(), ticketdomain.GrantRequest{
		OwnerID: owner.String(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"granted": granted})
}

func (s *Server) GrantContribution(c *gin.Context) {
	var req contributionGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err := s.ticketSvc.GrantContribution(c.Request.Context(), ticketdomain.ContributionGrantRequest{
		OwnerID:  req.OwnerID,
		Reason:   req.Reason,
		Category: ticketdomain.ContributionCategory(req.Category),
	})
	if err != nil {
		// Grants are fire-and-forget for callers: a failed grant is logged
		// and reported, never half-applied.
		s.log.Warn("contribution grant rejected", zap.Error(err))
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GrantManual(c *gin.Context) {
	var req manualGrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.ticketSvc.GrantManual(c.Request.Context(), ticketdomain.GrantRequest{
		OwnerID: req.OwnerID,
	}); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetQuota reads the mirrored remaining count. May be briefly stale; the
// authoritative decision still happens at spend time.
func (s *Server) GetQuota(c *gin.Context) {
	owner, ok := sessionOwner(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	remaining, err := s.quotaSvc.RemainingCount(c.Request.Context(), owner.String())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"remaining": remaining})
}

// SyncQuota forces a full mirror rebuild (session start, pull-to-refresh).
func (s *Server) SyncQuota(c *gin.Context) {
	owner, ok := sessionOwner(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.quotaSvc.SyncTickets(c.Request.Context(), owner.String()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) Ask(c *gin.Context) {
	owner, ok := sessionOwner(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ask := quotadomain.AskRequest{
		OwnerID: owner.String(),
		Query:   req.Query,
	}
	for _, m := range req.History {
		ask.History = append(ask.History, assistant.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := s.quotaSvc.AskWithQuota(c.Request.Context(), ask)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
