package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kanakku/bankfeed/internal/crypto"
	"github.com/kanakku/bankfeed/internal/database"
	"github.com/kanakku/bankfeed/internal/email"
	"github.com/kanakku/bankfeed/internal/jobs"
	"github.com/kanakku/bankfeed/pkg/models"
)

// ConfigStore reads configurations for the trigger/status endpoints.
type ConfigStore interface {
	GetConfiguration(ctx context.Context, userID int64) (*models.EmailConfiguration, error)
}

// Registry is the job registry surface the endpoints need.
type Registry interface {
	IsPending(ctx context.Context, userID int64) bool
	Status(ctx context.Context, userID int64) models.JobStatus
	EnqueueNow(ctx context.Context, userID int64) (*models.Job, bool, error)
	LastResult(ctx context.Context, userID int64) *models.Job
}

// Dialer opens mailbox sessions for connection tests.
type Dialer = jobs.MailboxDialer

// HTTPServer exposes the automation control endpoints to the web backend.
type HTTPServer struct {
	echo        *echo.Echo
	configs     ConfigStore
	registry    Registry
	cipher      *crypto.Cipher
	dialer      Dialer
	dialTimeout time.Duration
	logger      *slog.Logger
}

// Deps collects the server's collaborators.
type Deps struct {
	Configs     ConfigStore
	Registry    Registry
	Cipher      *crypto.Cipher
	Dialer      Dialer
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// NewHTTPServer creates the server and registers routes.
func NewHTTPServer(deps Deps) *HTTPServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &HTTPServer{
		echo:        e,
		configs:     deps.Configs,
		registry:    deps.Registry,
		cipher:      deps.Cipher,
		dialer:      deps.Dialer,
		dialTimeout: deps.DialTimeout,
		logger:      deps.Logger.With("component", "http"),
	}

	e.GET("/health", s.healthCheck)
	e.POST("/api/v1/email-automation/trigger", s.trigger)
	e.GET("/api/v1/email-automation/status", s.status)
	e.POST("/api/v1/email-automation/test-connection", s.testConnection)

	return s
}

// Start starts the HTTP server
func (s *HTTPServer) Start(address string) error {
	s.logger.Info("starting HTTP server", "address", address)
	return s.echo.Start(address)
}

// Shutdown shuts down the HTTP server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

func (s *HTTPServer) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "bankfeed",
	})
}

type triggerRequest struct {
	UserID int64 `json:"user_id"`
}

type triggerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	JobID   string `json:"job_id,omitempty"`
}

type conflictResponse struct {
	Success   bool             `json:"success"`
	Error     string           `json:"error"`
	JobStatus models.JobStatus `json:"job_status"`
}

// trigger manually enqueues a processing job, applying the same pending
// check as the scheduler. The check and the enqueue are its last two
// actions, back to back, to keep the race window with the scheduler tick
// as small as possible.
func (s *HTTPServer) trigger(c echo.Context) error {
	var req triggerRequest
	if err := c.Bind(&req); err != nil || req.UserID == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}
	ctx := c.Request().Context()

	cfg, err := s.configs.GetConfiguration(ctx, req.UserID)
	if errors.Is(err, database.ErrNotFound) || (err == nil && !cfg.IsEnabled) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "email automation is not configured or disabled",
		})
	}
	if err != nil {
		s.logger.Error("failed to load configuration", "user_id", req.UserID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	if s.registry.IsPending(ctx, req.UserID) {
		return c.JSON(http.StatusConflict, conflictResponse{
			Success:   false,
			Error:     "email processing job already pending for this user",
			JobStatus: s.registry.Status(ctx, req.UserID),
		})
	}

	job, _, err := s.registry.EnqueueNow(ctx, req.UserID)
	if err != nil {
		s.logger.Error("failed to enqueue job", "user_id", req.UserID, "error", err)
		return c.JSON(http.StatusInternalServerError, triggerResponse{
			Success: false,
			Message: "failed to queue email processing job",
		})
	}

	s.logger.Info("manual trigger accepted", "user_id", req.UserID, "job_id", job.ID)
	return c.JSON(http.StatusOK, triggerResponse{
		Success: true,
		Message: "email processing job queued successfully",
		JobID:   job.ID,
	})
}

type statusResponse struct {
	Status          string            `json:"status"` // enabled | disabled | not_configured
	EmailAddress    string            `json:"email_address,omitempty"`
	PollingInterval string            `json:"polling_interval,omitempty"`
	LastCheck       *time.Time        `json:"last_check"`
	LastProcessedID string            `json:"last_processed_id,omitempty"`
	Jobs            models.JobStatus  `json:"jobs"`
	LastRun         *models.JobResult `json:"last_run,omitempty"`
	LastRunState    string            `json:"last_run_state,omitempty"`
	LastRunError    string            `json:"last_run_error,omitempty"`
}

// status reports the pending breakdown plus the most recent terminal
// outcome, including partial-failure counts.
func (s *HTTPServer) status(c echo.Context) error {
	userID, err := strconv.ParseInt(c.QueryParam("user_id"), 10, 64)
	if err != nil || userID == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}
	ctx := c.Request().Context()

	cfg, err := s.configs.GetConfiguration(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return c.JSON(http.StatusOK, statusResponse{Status: "not_configured"})
	}
	if err != nil {
		s.logger.Error("failed to load configuration", "user_id", userID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	resp := statusResponse{
		Status:          "disabled",
		EmailAddress:    cfg.EmailAddress,
		PollingInterval: cfg.PollingInterval,
		LastCheck:       cfg.LastCheckTime,
		LastProcessedID: cfg.LastProcessedID,
		Jobs:            s.registry.Status(ctx, userID),
	}
	if cfg.IsEnabled {
		resp.Status = "enabled"
	}

	if last := s.registry.LastResult(ctx, userID); last != nil {
		resp.LastRun = &models.JobResult{
			Processed: last.Processed,
			Skipped:   last.Skipped,
			Failed:    last.Failed,
		}
		resp.LastRunState = string(last.State)
		resp.LastRunError = last.Error
	}

	return c.JSON(http.StatusOK, resp)
}

type testConnectionRequest struct {
	UserID int64 `json:"user_id"`
}

// testConnection dials the user's stored mailbox settings and reports
// whether login succeeds, without processing anything.
func (s *HTTPServer) testConnection(c echo.Context) error {
	var req testConnectionRequest
	if err := c.Bind(&req); err != nil || req.UserID == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}
	ctx := c.Request().Context()

	cfg, err := s.configs.GetConfiguration(ctx, req.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "email automation is not configured"})
	}
	if err != nil {
		s.logger.Error("failed to load configuration", "user_id", req.UserID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	password, err := s.cipher.Decrypt(cfg.EncryptedPassword)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to decrypt stored credential"})
	}

	session, err := s.dialer.Dial(ctx, email.Settings{
		Server:      cfg.IMAPServer,
		Port:        cfg.IMAPPort,
		Address:     cfg.EmailAddress,
		Password:    password,
		DialTimeout: s.dialTimeout,
	})
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{"success": false, "error": err.Error()})
	}
	session.Close()

	return c.JSON(http.StatusOK, map[string]any{"success": true})
}
