package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanakku/bankfeed/internal/crypto"
	"github.com/kanakku/bankfeed/internal/database"
	"github.com/kanakku/bankfeed/internal/email"
	"github.com/kanakku/bankfeed/internal/jobs"
	"github.com/kanakku/bankfeed/pkg/models"
)

const testKey = "0123456789abcdef0123456789abcdef"

type fakeConfigs struct {
	cfg *models.EmailConfiguration
}

func (f *fakeConfigs) GetConfiguration(_ context.Context, _ int64) (*models.EmailConfiguration, error) {
	if f.cfg == nil {
		return nil, database.ErrNotFound
	}
	return f.cfg, nil
}

type fakeRegistry struct {
	status   models.JobStatus
	enqueued *models.Job
	last     *models.Job
}

func (f *fakeRegistry) IsPending(_ context.Context, _ int64) bool {
	return f.status.AnyPending()
}

func (f *fakeRegistry) Status(_ context.Context, _ int64) models.JobStatus {
	return f.status
}

func (f *fakeRegistry) EnqueueNow(_ context.Context, userID int64) (*models.Job, bool, error) {
	job := &models.Job{
		ID:     jobs.ManualJobID(userID, time.Now()),
		UserID: userID,
		State:  models.JobQueued,
	}
	f.enqueued = job
	return job, true, nil
}

func (f *fakeRegistry) LastResult(_ context.Context, _ int64) *models.Job {
	return f.last
}

type fakeDialSession struct{}

func (fakeDialSession) FetchSince(_ context.Context, _ string, _ []string) ([]email.Message, error) {
	return nil, nil
}
func (fakeDialSession) Close() error { return nil }

type fakeDialer struct {
	err      error
	settings email.Settings
}

func (f *fakeDialer) Dial(_ context.Context, settings email.Settings) (jobs.MailboxSession, error) {
	f.settings = settings
	if f.err != nil {
		return nil, f.err
	}
	return fakeDialSession{}, nil
}

func enabledConfig(t *testing.T) *models.EmailConfiguration {
	t.Helper()
	cipher, err := crypto.NewCipher(testKey)
	require.NoError(t, err)
	encrypted, err := cipher.Encrypt("app-password")
	require.NoError(t, err)
	return &models.EmailConfiguration{
		UserID:            7,
		IsEnabled:         true,
		IMAPServer:        "imap.example.com",
		IMAPPort:          993,
		EmailAddress:      "user@example.com",
		EncryptedPassword: encrypted,
		PollingInterval:   models.PollingHourly,
		LastProcessedID:   "1042",
	}
}

func serverFixture(t *testing.T, configs *fakeConfigs, registry *fakeRegistry, dialer *fakeDialer) *HTTPServer {
	t.Helper()
	cipher, err := crypto.NewCipher(testKey)
	require.NoError(t, err)
	return NewHTTPServer(Deps{
		Configs:     configs,
		Registry:    registry,
		Cipher:      cipher,
		Dialer:      dialer,
		DialTimeout: time.Second,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func doJSON(t *testing.T, s *HTTPServer, method, path, body string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec, decoded
}

func TestHealth(t *testing.T) {
	s := serverFixture(t, &fakeConfigs{}, &fakeRegistry{}, &fakeDialer{})
	rec, body := doJSON(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `"ok"`, string(body["status"]))
}

func TestTriggerEnqueues(t *testing.T) {
	registry := &fakeRegistry{}
	s := serverFixture(t, &fakeConfigs{cfg: enabledConfig(t)}, registry, &fakeDialer{})

	rec, body := doJSON(t, s, http.MethodPost, "/api/v1/email-automation/trigger", `{"user_id":7}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "true", string(body["success"]))
	require.NotNil(t, registry.enqueued)
	assert.JSONEq(t, `"`+registry.enqueued.ID+`"`, string(body["job_id"]))
}

func TestTriggerConflictWhenPending(t *testing.T) {
	registry := &fakeRegistry{status: models.JobStatus{HasRunning: true}}
	s := serverFixture(t, &fakeConfigs{cfg: enabledConfig(t)}, registry, &fakeDialer{})

	rec, body := doJSON(t, s, http.MethodPost, "/api/v1/email-automation/trigger", `{"user_id":7}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Nil(t, registry.enqueued)

	var status models.JobStatus
	require.NoError(t, json.Unmarshal(body["job_status"], &status))
	assert.True(t, status.HasRunning)
	assert.False(t, status.HasScheduled)
	assert.False(t, status.HasQueued)
}

func TestTriggerDisabledConfig(t *testing.T) {
	cfg := enabledConfig(t)
	cfg.IsEnabled = false
	s := serverFixture(t, &fakeConfigs{cfg: cfg}, &fakeRegistry{}, &fakeDialer{})

	rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/email-automation/trigger", `{"user_id":7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerMissingConfig(t *testing.T) {
	s := serverFixture(t, &fakeConfigs{}, &fakeRegistry{}, &fakeDialer{})

	rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/email-automation/trigger", `{"user_id":7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerMissingUserID(t *testing.T) {
	s := serverFixture(t, &fakeConfigs{cfg: enabledConfig(t)}, &fakeRegistry{}, &fakeDialer{})

	rec, _ := doJSON(t, s, http.MethodPost, "/api/v1/email-automation/trigger", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus(t *testing.T) {
	registry := &fakeRegistry{
		status: models.JobStatus{HasScheduled: true},
		last: &models.Job{
			State:     models.JobFinished,
			Processed: 5,
			Skipped:   2,
			Failed:    1,
		},
	}
	s := serverFixture(t, &fakeConfigs{cfg: enabledConfig(t)}, registry, &fakeDialer{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/email-automation/status?user_id=7", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "enabled", resp.Status)
	assert.Equal(t, "user@example.com", resp.EmailAddress)
	assert.Equal(t, "1042", resp.LastProcessedID)
	assert.True(t, resp.Jobs.HasScheduled)
	require.NotNil(t, resp.LastRun)
	assert.Equal(t, models.JobResult{Processed: 5, Skipped: 2, Failed: 1}, *resp.LastRun)
	assert.Equal(t, "finished", resp.LastRunState)
}

func TestStatusNotConfigured(t *testing.T) {
	s := serverFixture(t, &fakeConfigs{}, &fakeRegistry{}, &fakeDialer{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/email-automation/status?user_id=7", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_configured", resp.Status)
}

func TestStatusMissingUserID(t *testing.T) {
	s := serverFixture(t, &fakeConfigs{}, &fakeRegistry{}, &fakeDialer{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/email-automation/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTestConnection(t *testing.T) {
	dialer := &fakeDialer{}
	s := serverFixture(t, &fakeConfigs{cfg: enabledConfig(t)}, &fakeRegistry{}, dialer)

	rec, body := doJSON(t, s, http.MethodPost, "/api/v1/email-automation/test-connection", `{"user_id":7}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "true", string(body["success"]))

	// The stored credential is decrypted before dialing
	assert.Equal(t, "app-password", dialer.settings.Password)
	assert.Equal(t, "imap.example.com", dialer.settings.Server)
}

func TestTestConnectionFailure(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("login failed")}
	s := serverFixture(t, &fakeConfigs{cfg: enabledConfig(t)}, &fakeRegistry{}, dialer)

	rec, body := doJSON(t, s, http.MethodPost, "/api/v1/email-automation/test-connection", `{"user_id":7}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "false", string(body["success"]))
}
