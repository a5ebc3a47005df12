package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisebound/sentinel/pkg/auth"
	authfake "github.com/wisebound/sentinel/pkg/auth/fake"
	"github.com/wisebound/sentinel/pkg/models"
	"github.com/wisebound/sentinel/pkg/pipeline"
	"github.com/wisebound/sentinel/pkg/scheduler"
)

type fakeQueue struct {
	mu      sync.Mutex
	pending []*models.Thought
}

func (q *fakeQueue) PendingOrderedByTaskPriority(ctx context.Context) ([]*models.Thought, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.Thought, len(q.pending))
	copy(out, q.pending)
	return out, nil
}

type fakeProcessor struct{}

func (fakeProcessor) ProcessOne(ctx context.Context, thoughtID string) (pipeline.Result, error) {
	return pipeline.Result{ThoughtID: thoughtID, FinalAction: models.ActionSpeak}, nil
}

type fakeTasks struct {
	mu      sync.Mutex
	created []*models.Task
}

func (t *fakeTasks) Create(ctx context.Context, task *models.Task) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.created = append(t.created, task)
	return nil
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []models.AuditEventType
}

func (a *fakeAuditor) Append(ctx context.Context, eventType models.AuditEventType, originatorID string, payload map[string]any) (*models.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, eventType)
	return &models.AuditEntry{EventType: eventType}, nil
}

// testServer wires a Server over an in-memory scheduler and repo, minting
// a root WA certificate with every scope for tests that need one.
func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	repo := authfake.New()
	root, _, token, err := auth.MintRoot(time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Put(context.Background(), root))
	resolver := auth.NewResolver(repo)

	sched := scheduler.New(&fakeQueue{}, fakeProcessor{}, &fakeAuditor{}, repo)
	srv := NewServer(resolver, sched, &fakeTasks{}, &fakeAuditor{}, nil)
	return srv, token
}

func doRequest(srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpointRequiresNoAuth(t *testing.T) {
	srv, _ := testServer(t)
	rec := doRequest(srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitTaskRequiresWriteTaskScope(t *testing.T) {
	srv, token := testServer(t)
	rec := doRequest(srv, http.MethodPost, "/api/v1/tasks", token, SubmitTaskRequest{
		ChannelID: "chan-1", Description: "investigate", Priority: 5,
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp TaskAcceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
}

func TestSubmitTaskRejectedWithoutToken(t *testing.T) {
	srv, _ := testServer(t)
	rec := doRequest(srv, http.MethodPost, "/api/v1/tasks", "", SubmitTaskRequest{
		ChannelID: "chan-1", Description: "investigate",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQueueStatusReturnsSchedulerState(t *testing.T) {
	srv, token := testServer(t)
	rec := doRequest(srv, http.MethodGet, "/api/v1/queue_status", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp QueueStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.State)
}

func TestControlPauseAndResume(t *testing.T) {
	srv, token := testServer(t)

	rec := doRequest(srv, http.MethodPost, "/api/v1/control/pause", token, PauseRequest{Reason: "maintenance"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/api/v1/queue_status", token, nil)
	var resp QueueStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "paused", resp.State)
	assert.Equal(t, "maintenance", resp.PauseReason)

	rec = doRequest(srv, http.MethodPost, "/api/v1/control/resume", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestControlEndpointsRejectMissingSystemControlScope(t *testing.T) {
	repo := authfake.New()
	root, rootPriv, _, err := auth.MintRoot(time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Put(context.Background(), root))
	observer, observerToken, err := auth.Mint(root, rootPriv, models.WARoleObserver, []string{models.ScopeReadAny}, models.WATokenStandard, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Put(context.Background(), observer))

	resolver := auth.NewResolver(repo)
	sched := scheduler.New(&fakeQueue{}, fakeProcessor{}, &fakeAuditor{}, repo)
	srv := NewServer(resolver, sched, &fakeTasks{}, &fakeAuditor{}, nil)

	rec := doRequest(srv, http.MethodPost, "/api/v1/control/pause", observerToken, PauseRequest{Reason: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEmergencyShutdownEndpoint(t *testing.T) {
	// The root WA certificate both bears the request's bearer token (it
	// carries every scope) and signs the emergency command itself.
	repo := authfake.New()
	root, rootPriv, rootToken, err := auth.MintRoot(time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Put(context.Background(), root))
	resolver := auth.NewResolver(repo)
	sched := scheduler.New(&fakeQueue{}, fakeProcessor{}, &fakeAuditor{}, repo)
	srv := NewServer(resolver, sched, &fakeTasks{}, &fakeAuditor{}, nil)
	token := rootToken

	payload := []byte("shutdown: compromised")
	sig := ed25519.Sign(rootPriv, payload)
	rec := doRequest(srv, http.MethodPost, "/api/v1/control/emergency_shutdown", token, EmergencyShutdownRequest{
		Payload: payload, Signature: sig, SignerID: root.ID,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}
