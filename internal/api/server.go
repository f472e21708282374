// Package api exposes mailbox sync and lead management over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Martian-dev/leadsync/internal/analysis"
	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/leads"
	"github.com/Martian-dev/leadsync/internal/mailer"
	"github.com/Martian-dev/leadsync/internal/model"
	"github.com/Martian-dev/leadsync/internal/sync"
)

// Store is the read side used directly by handlers.
type Store interface {
	Ping(ctx context.Context) error
	ListAccounts(ctx context.Context, userID string, activeOnly bool) ([]model.Account, error)
	ListMessages(ctx context.Context, userID string, f model.MessageFilter) ([]model.Message, error)
	CountMessages(ctx context.Context, userID string, f model.MessageFilter) (int, error)
	SyncStatus(ctx context.Context, userID string) (*model.SyncStatus, error)
}

// Deps are the services behind the routes. Analysis may be nil when no
// OpenAI key is configured.
type Deps struct {
	Store     Store
	Auth      auth.Authenticator
	Sync      *sync.Service
	Connector *sync.Connector
	Manager   *sync.Manager
	Leads     *leads.Service
	Mailer    *mailer.Service
	Analysis  *analysis.Service
}

// Server holds the HTTP handlers
type Server struct {
	Deps
	log zerolog.Logger
}

// NewServer creates a server
func NewServer(deps Deps, log zerolog.Logger) *Server {
	return &Server{Deps: deps, log: log.With().Str("component", "api").Logger()}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", s.health)
	r.GET("/oauth/callback", s.oauthCallback)

	authorized := r.Group("/api/v1")
	authorized.Use(auth.Middleware(s.Auth))

	authorized.GET("/accounts", s.listAccounts)
	authorized.POST("/accounts/connect/:provider", s.connect)
	authorized.DELETE("/accounts/:account_id", s.disconnect)
	authorized.GET("/accounts/:account_id/folders", s.folders)
	authorized.POST("/accounts/:account_id/sync", s.syncAccount)
	authorized.DELETE("/accounts/:account_id/sync", s.stopSync)
	authorized.GET("/accounts/:account_id/messages/:message_id/remote", s.remoteMessage)
	authorized.PATCH("/accounts/:account_id/messages/:message_id/read", s.markRead)
	authorized.POST("/accounts/:account_id/messages/:message_id/analyze", s.analyze)
	authorized.POST("/accounts/:account_id/send", s.send)
	authorized.POST("/accounts/:account_id/send/bulk", s.sendBulk)

	authorized.POST("/sync", s.syncUser)
	authorized.GET("/sync/status", s.syncStatus)
	authorized.GET("/sync/running", s.running)
	authorized.GET("/messages", s.listMessages)

	authorized.GET("/leads", s.listLeads)
	authorized.POST("/leads", s.createLead)
	authorized.POST("/leads/bulk", s.bulkSync)
	authorized.GET("/leads/analytics", s.analytics)
	authorized.GET("/leads/:lead_id", s.getLead)
	authorized.PATCH("/leads/:lead_id", s.updateLead)
	authorized.DELETE("/leads/:lead_id", s.deleteLead)

	authorized.GET("/sent", s.listSent)
	authorized.DELETE("/sent", s.purgeSent)
	authorized.GET("/drafts", s.listDrafts)
	authorized.POST("/drafts", s.createDraft)
	authorized.GET("/drafts/:draft_id", s.getDraft)
	authorized.PATCH("/drafts/:draft_id", s.updateDraft)
	authorized.DELETE("/drafts/:draft_id", s.deleteDraft)
	authorized.POST("/drafts/:draft_id/send", s.sendDraft)
	authorized.POST("/drafts/:draft_id/duplicate", s.duplicateDraft)

	return r
}

func (s *Server) health(c *gin.Context) {
	if err := s.Store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	body := gin.H{"status": "ok"}
	if st, ok := s.Auth.(statser); ok {
		body["auth"] = st.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// statser is implemented by authenticators that report key cache state.
type statser interface {
	Stats() map[string]interface{}
}
