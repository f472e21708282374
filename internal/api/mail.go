package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/leads"
	"github.com/Martian-dev/leadsync/internal/model"
	"github.com/Martian-dev/leadsync/internal/sync"
)

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.Store.ListAccounts(c.Request.Context(), auth.UserID(c), false)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, accounts)
}

func (s *Server) connect(c *gin.Context) {
	provider, err := auth.ParseProvider(c.Param("provider"))
	if err != nil {
		badRequest(c, err)
		return
	}
	url, err := s.Connector.Begin(c.Request.Context(), auth.UserID(c), provider)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth_url": url})
}

// oauthCallback is the provider redirect target. The state row identifies
// the user, so the route is not behind the bearer-token middleware.
func (s *Server) oauthCallback(c *gin.Context) {
	if denied := c.Query("error"); denied != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authorization denied: " + denied})
		return
	}
	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		badRequest(c, errors.New("state and code are required"))
		return
	}
	acct, err := s.Connector.Complete(c.Request.Context(), state, code)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, acct)
}

func (s *Server) disconnect(c *gin.Context) {
	userID, accountID := auth.UserID(c), c.Param("account_id")
	if err := s.Manager.Stop(userID, accountID); err != nil && !errors.Is(err, sync.ErrNotRunning) {
		s.log.Warn().Err(err).Str("account_id", accountID).Msg("stopping sync before disconnect")
	}
	if err := s.Sync.Disconnect(c.Request.Context(), userID, accountID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) folders(c *gin.Context) {
	folders, err := s.Sync.Folders(c.Request.Context(), auth.UserID(c), c.Param("account_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, folders)
}

// bindSyncRequest reads an optional JSON body.
func bindSyncRequest(c *gin.Context) (sync.Request, bool) {
	var req sync.Request
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return req, false
	}
	if req.MaxMessages < 0 {
		badRequest(c, errors.New("max_messages must not be negative"))
		return req, false
	}
	return req, true
}

func (s *Server) syncAccount(c *gin.Context) {
	req, ok := bindSyncRequest(c)
	if !ok {
		return
	}
	userID, accountID := auth.UserID(c), c.Param("account_id")

	if c.Query("background") == "true" {
		if err := s.Manager.Start(userID, accountID, req); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "started", "account_id": accountID})
		return
	}

	res, err := s.Sync.SyncAccount(c.Request.Context(), userID, accountID, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) stopSync(c *gin.Context) {
	if err := s.Manager.Stop(auth.UserID(c), c.Param("account_id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) syncUser(c *gin.Context) {
	req, ok := bindSyncRequest(c)
	if !ok {
		return
	}
	res, err := s.Sync.SyncUser(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) syncStatus(c *gin.Context) {
	status, err := s.Store.SyncStatus(c.Request.Context(), auth.UserID(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) running(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.Manager.Running(auth.UserID(c))})
}

type messageQuery struct {
	AccountID string `form:"account_id"`
	Folder    string `form:"folder"`
	LeadID    string `form:"lead_id"`
	Unread    bool   `form:"unread"`
	Search    string `form:"q"`
	Offset    int    `form:"offset" binding:"min=0"`
	Limit     int    `form:"limit" binding:"min=0,max=500"`
}

func (s *Server) listMessages(c *gin.Context) {
	var q messageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = leads.DefaultLimit
	}
	f := model.MessageFilter{
		AccountID:  q.AccountID,
		Folder:     q.Folder,
		LeadID:     q.LeadID,
		UnreadOnly: q.Unread,
		Search:     q.Search,
		Offset:     q.Offset,
		Limit:      q.Limit,
	}

	ctx, userID := c.Request.Context(), auth.UserID(c)
	msgs, err := s.Store.ListMessages(ctx, userID, f)
	if err != nil {
		s.fail(c, err)
		return
	}
	total, err := s.Store.CountMessages(ctx, userID, f)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "total": total, "offset": f.Offset, "limit": f.Limit})
}

func (s *Server) remoteMessage(c *gin.Context) {
	msg, err := s.Sync.RemoteMessage(c.Request.Context(), auth.UserID(c), c.Param("account_id"), c.Param("message_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (s *Server) markRead(c *gin.Context) {
	var body struct {
		Read *bool `json:"read" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err)
		return
	}
	err := s.Sync.MarkRead(c.Request.Context(), auth.UserID(c), c.Param("account_id"), c.Param("message_id"), *body.Read)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": c.Param("message_id"), "is_read": *body.Read})
}
