package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/mailer"
	"github.com/Martian-dev/leadsync/internal/model"
)

func (s *Server) send(c *gin.Context) {
	var msg mailer.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := s.Mailer.Send(c.Request.Context(), auth.UserID(c), c.Param("account_id"), msg)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) sendBulk(c *gin.Context) {
	var req mailer.BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.Mailer.SendBulk(c.Request.Context(), auth.UserID(c), c.Param("account_id"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type sentQuery struct {
	AccountID string `form:"account_id"`
	Limit     int    `form:"limit"`
}

func (s *Server) listSent(c *gin.Context) {
	var q sentQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	sent, err := s.Mailer.Sent(c.Request.Context(), auth.UserID(c), model.SentFilter{AccountID: q.AccountID, Limit: q.Limit})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": sent, "count": len(sent)})
}

func (s *Server) purgeSent(c *gin.Context) {
	var q struct {
		DaysOld int `form:"days_old"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.Mailer.Purge(c.Request.Context(), auth.UserID(c), q.DaysOld)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) createDraft(c *gin.Context) {
	var d model.Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.Mailer.CreateDraft(c.Request.Context(), auth.UserID(c), &d); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

type draftQuery struct {
	AccountID string `form:"account_id"`
	Search    string `form:"q"`
	Limit     int    `form:"limit"`
}

func (s *Server) listDrafts(c *gin.Context) {
	var q draftQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	drafts, err := s.Mailer.Drafts(c.Request.Context(), auth.UserID(c), model.DraftFilter{
		AccountID: q.AccountID,
		Search:    q.Search,
		Limit:     q.Limit,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drafts": drafts, "count": len(drafts)})
}

func (s *Server) getDraft(c *gin.Context) {
	d, err := s.Mailer.Draft(c.Request.Context(), auth.UserID(c), c.Param("draft_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) updateDraft(c *gin.Context) {
	var u model.DraftUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		badRequest(c, err)
		return
	}
	d, err := s.Mailer.UpdateDraft(c.Request.Context(), auth.UserID(c), c.Param("draft_id"), u)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) deleteDraft(c *gin.Context) {
	if err := s.Mailer.DeleteDraft(c.Request.Context(), auth.UserID(c), c.Param("draft_id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) sendDraft(c *gin.Context) {
	rec, err := s.Mailer.SendDraft(c.Request.Context(), auth.UserID(c), c.Param("draft_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) duplicateDraft(c *gin.Context) {
	d, err := s.Mailer.DuplicateDraft(c.Request.Context(), auth.UserID(c), c.Param("draft_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}
