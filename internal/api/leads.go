package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/leads"
	"github.com/Martian-dev/leadsync/internal/model"
	"github.com/Martian-dev/leadsync/internal/store"
)

type leadQuery struct {
	Search   string `form:"q"`
	Priority string `form:"priority" binding:"omitempty,oneof=High Medium Low"`
	Offset   int    `form:"offset"`
	Limit    int    `form:"limit"`
}

func (s *Server) listLeads(c *gin.Context) {
	var q leadQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	page, err := s.Leads.List(c.Request.Context(), auth.UserID(c), store.LeadFilter{
		Search:   q.Search,
		Priority: q.Priority,
		Offset:   q.Offset,
		Limit:    q.Limit,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) createLead(c *gin.Context) {
	var l model.Lead
	if err := c.ShouldBindJSON(&l); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.Leads.Create(c.Request.Context(), auth.UserID(c), &l); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

// getLead returns the lead, with its linked messages when ?messages=true.
func (s *Server) getLead(c *gin.Context) {
	ctx, userID, leadID := c.Request.Context(), auth.UserID(c), c.Param("lead_id")
	if c.Query("messages") == "true" {
		l, err := s.Leads.GetWithMessages(ctx, userID, leadID)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, l)
		return
	}
	l, err := s.Leads.Get(ctx, userID, leadID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) updateLead(c *gin.Context) {
	var u model.LeadUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, err)
		return
	}
	l, err := s.Leads.Update(c.Request.Context(), auth.UserID(c), c.Param("lead_id"), u)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

func (s *Server) deleteLead(c *gin.Context) {
	if err := s.Leads.Delete(c.Request.Context(), auth.UserID(c), c.Param("lead_id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) bulkSync(c *gin.Context) {
	var req leads.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.Leads.BulkSync(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) analytics(c *gin.Context) {
	a, err := s.Leads.Analytics(c.Request.Context(), auth.UserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) analyze(c *gin.Context) {
	if s.Analysis == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lead analysis is not configured"})
		return
	}
	res, err := s.Analysis.AnalyzeMessage(c.Request.Context(), auth.UserID(c), c.Param("account_id"), c.Param("message_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}
