package handler

import (
	"context"
	"crypto/subtle"
	"echoscribe/internal/billing"
	"echoscribe/internal/metrics"
	"echoscribe/internal/models"
	"echoscribe/internal/service"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// JobService is the ingestion and job read API
type JobService interface {
	HandleUpload(ctx context.Context, n *models.UploadNotification) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, ownerID string, status models.JobStatus) ([]*models.Job, error)
	ListDeadLetterTasks(ctx context.Context) ([]*models.DeadLetterTask, error)
}

// EntitlementService provisions and reports quota
type EntitlementService interface {
	Provision(ctx context.Context, ownerID string) (*models.Entitlement, bool, error)
	GetQuota(ctx context.Context, ownerID string) (*models.QuotaInfo, error)
	CanAdmit(ctx context.Context, ownerID string) (bool, error)
}

// AccountService handles owner-level actions
type AccountService interface {
	CancelAtPeriodEnd(ctx context.Context, ownerID string) (*models.Subscription, error)
	Reactivate(ctx context.Context, ownerID string) (*models.Subscription, error)
	Export(ctx context.Context, ownerID string) (*service.AccountExport, error)
	DeleteAccount(ctx context.Context, ownerID string) (*service.DeletionReport, error)
}

// EventVerifier authenticates billing webhook deliveries
type EventVerifier interface {
	Verify(payload []byte, signature string) (*billing.Event, error)
}

// Reconciler folds verified billing events into local state
type Reconciler interface {
	Reconcile(ctx context.Context, evt *billing.Event) (service.Outcome, error)
}

// Deps are the services the HTTP API serves
type Deps struct {
	Jobs         JobService
	Entitlements EntitlementService
	Accounts     AccountService
	Verifier     EventVerifier
	Reconciler   Reconciler
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	AdminToken   string
}

var (
	_ JobService         = (*service.JobService)(nil)
	_ EntitlementService = (*service.EntitlementService)(nil)
	_ AccountService     = (*service.AccountService)(nil)
	_ EventVerifier      = (*billing.Verifier)(nil)
	_ Reconciler         = (*service.Reconciler)(nil)
)

// Server is the HTTP API
type Server struct {
	deps   Deps
	logger *slog.Logger
	router *gin.Engine
}

// NewServer creates the API server and registers its routes
func NewServer(deps Deps) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	if gin.Mode() != gin.TestMode {
		router.Use(gin.Logger())
	}

	s := &Server{
		deps:   deps,
		logger: deps.Logger.With("component", "http"),
		router: router,
	}

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", s.handleMetrics)

	// signed by the processor, not by the admin token
	router.POST("/v1/webhooks/billing", s.handleBillingWebhook)

	api := router.Group("/v1", s.requireAdmin())
	{
		api.POST("/notifications/upload", s.handleUploadNotification)
		api.GET("/jobs", s.handleListJobs)
		api.GET("/jobs/:id", s.handleGetJob)
		api.GET("/dlq", s.handleDeadLetterQueue)

		accounts := api.Group("/accounts/:ownerID")
		accounts.POST("", s.handleProvisionAccount)
		accounts.DELETE("", s.handleDeleteAccount)
		accounts.GET("/quota", s.handleGetQuota)
		accounts.GET("/admission", s.handleAdmission)
		accounts.GET("/export", s.handleExport)
		accounts.POST("/subscription/cancel", s.handleCancelSubscription)
		accounts.POST("/subscription/reactivate", s.handleReactivateSubscription)
	}

	return s
}

// Handler exposes the router for http.Server and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	expected := []byte(s.deps.AdminToken)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}
		token, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Metrics.GetSnapshot())
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}
