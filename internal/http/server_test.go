package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/learning"
	"github.com/fyrsmithlabs/learnd/internal/queue"
)

// fakeStatus serves a canned status document.
type fakeStatus struct {
	status *learning.Status
	err    error
}

func (f *fakeStatus) Status(_ context.Context) (*learning.Status, error) {
	return f.status, f.err
}

func newTestServer(t *testing.T, provider StatusProvider) *Server {
	t.Helper()
	s, err := NewServer(provider, zap.NewNop(), nil)
	require.NoError(t, err)
	return s
}

func doRequest(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeStatus{status: &learning.Status{}})

	rec := doRequest(s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeStatus{status: &learning.Status{
		Running: true,
		QueueCounts: map[queue.TaskStatus]int{
			queue.StatusPending: 4,
		},
		PatternTotal: 12,
		BufferSize:   2,
	}})

	rec := doRequest(s, http.MethodGet, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got learning.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Running)
	assert.Equal(t, 4, got.QueueCounts[queue.StatusPending])
	assert.Equal(t, 12, got.PatternTotal)
	assert.Equal(t, 2, got.BufferSize)
}

func TestStatusEndpointFailure(t *testing.T) {
	s := newTestServer(t, &fakeStatus{err: errors.New("db gone")})

	rec := doRequest(s, http.MethodGet, "/api/v1/status")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// The store error never leaks to the client.
	assert.NotContains(t, rec.Body.String(), "db gone")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeStatus{status: &learning.Status{}})

	rec := doRequest(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, &fakeStatus{status: &learning.Status{}})

	rec := doRequest(s, http.MethodGet, "/health")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(nil, zap.NewNop(), nil)
	assert.Error(t, err)

	_, err = NewServer(&fakeStatus{}, nil, nil)
	assert.Error(t, err)
}
