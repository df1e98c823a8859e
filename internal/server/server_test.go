package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/newstate/reactor/internal/config"
	"github.com/newstate/reactor/internal/database"
	"github.com/newstate/reactor/internal/pipeline"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, lane database.Lane) (*pipeline.RunSummary, error) {
	args := m.Called(ctx, lane)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.RunSummary), args.Error(1)
}

type MockPinger struct {
	mock.Mock
	database.Store
}

func (m *MockPinger) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func newTestServer(runner *MockRunner, pinger *MockPinger) *Server {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(log, config.ServerConfig{Addr: ":0", APISecret: "s3cret"}, runner, pinger)
}

func triggerRequest(t *testing.T, srv *Server, path, secret string) *http.Response {
	t.Helper()

	body, err := json.Marshal(TriggerRunBody{APISecret: secret})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.app.Test(req, int(30*time.Second/time.Millisecond))
	require.NoError(t, err)
	return resp
}

func TestTriggerRunSuccess(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, database.LaneOwn).Return(&pipeline.RunSummary{
		Lane:     database.LaneOwn,
		RunID:    "run1",
		NewPosts: 2,
	}, nil)

	srv := newTestServer(runner, new(MockPinger))
	resp := triggerRequest(t, srv, "/api/runs/own", "s3cret")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var summary pipeline.RunSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, "run1", summary.RunID)
	assert.Equal(t, 2, summary.NewPosts)

	runner.AssertExpectations(t)
}

func TestTriggerRunOtherLane(t *testing.T) {
	runner := new(MockRunner)
	runner.On("Run", mock.Anything, database.LaneOther).Return(&pipeline.RunSummary{
		Lane:  database.LaneOther,
		RunID: "run2",
	}, nil)

	srv := newTestServer(runner, new(MockPinger))
	resp := triggerRequest(t, srv, "/api/runs/other", "s3cret")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	runner.AssertExpectations(t)
}

func TestTriggerRunBadSecret(t *testing.T) {
	runner := new(MockRunner)

	srv := newTestServer(runner, new(MockPinger))
	resp := triggerRequest(t, srv, "/api/runs/own", "wrong")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestTriggerRunMissingSecret(t *testing.T) {
	runner := new(MockRunner)
	srv := newTestServer(runner, new(MockPinger))

	req := httptest.NewRequest(http.MethodPost, "/api/runs/own", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestTriggerRunErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "lease held", err: database.ErrLeaseHeld, status: http.StatusConflict},
		{name: "lane not seeded", err: database.ErrLaneNotSeeded, status: http.StatusPreconditionFailed},
		{name: "no system prompt config", err: database.ErrNoSystemPromptConfig, status: http.StatusPreconditionFailed},
		{name: "no active prompt config", err: pipeline.ErrNoActivePromptConfig, status: http.StatusPreconditionFailed},
		{name: "anything else", err: assert.AnError, status: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runner := new(MockRunner)
			runner.On("Run", mock.Anything, database.LaneOwn).Return(nil, tc.err)

			srv := newTestServer(runner, new(MockPinger))
			resp := triggerRequest(t, srv, "/api/runs/own", "s3cret")
			defer resp.Body.Close()

			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestHealthz(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		pinger := new(MockPinger)
		pinger.On("Ping", mock.Anything).Return(nil)

		srv := newTestServer(new(MockRunner), pinger)
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		resp, err := srv.app.Test(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("database down", func(t *testing.T) {
		pinger := new(MockPinger)
		pinger.On("Ping", mock.Anything).Return(assert.AnError)

		srv := newTestServer(new(MockRunner), pinger)
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		resp, err := srv.app.Test(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}
