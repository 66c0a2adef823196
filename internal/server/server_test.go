package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/spans/internal/bootstrap"
	mid "github.com/OFFIS-RIT/spans/internal/server/middleware"
	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/graph"
)

const masterKey = "master-secret"

var hmacSecret = []byte("test-secret")

type fakeQueue struct {
	requests []graph.RepairRequest
}

func (q *fakeQueue) PublishRepair(_ context.Context, req graph.RepairRequest) error {
	q.requests = append(q.requests, req)
	return nil
}

type testServer struct {
	t      *testing.T
	engine *bootstrap.Engine
	queue  *fakeQueue
	h      http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	engine, err := bootstrap.Open(context.Background(), bootstrap.Config{
		Store:      bootstrap.StoreSQLite,
		SQLitePath: ":memory:",
		SeedTypes:  true,
		KeepPolicy: graph.KeepNewest,
	})
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	q := &fakeQueue{}
	app := &mid.App{
		Graph:          engine.Graph,
		Repairs:        q,
		MasterAPIKey:   masterKey,
		MasterUserID:   "admin-1",
		MasterUserRole: "admin",
		Keyfunc: func(*jwt.Token) (any, error) {
			return hmacSecret, nil
		},
	}
	return &testServer{t: t, engine: engine, queue: q, h: New(app, engine.Registry)}
}

func (s *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(hmacSecret)
	require.NoError(t, err)
	return token
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", "").Code)

	rec := s.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAuth(t *testing.T) {
	s := newTestServer(t)
	body := `{"type":"person","name":"Jane"}`

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/spans/resolve", "", body).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/spans/resolve", "garbage", body).Code)

	viewer := signed(t, jwt.MapClaims{"id": "u-7", "role": "user", "permissions": []any{"span.merge"}})
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/api/spans/resolve", viewer, body).Code)

	editor := signed(t, jwt.MapClaims{"id": float64(7), "permissions": []any{"span.resolve"}})
	rec := s.do(http.MethodPost, "/api/spans/resolve", editor, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[graph.ResolveResult](t, rec)
	assert.Equal(t, "7", res.Span.OwnerID)

	noID := signed(t, jwt.MapClaims{"role": "admin"})
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/spans/resolve", noID, body).Code)
}

func TestResolveRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/spans/resolve?dry_run=true", masterKey, `{"type":"person","name":"Jane"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[graph.ResolveResult](t, rec).DryRun)

	rec = s.do(http.MethodPost, "/api/spans/resolve", masterKey,
		`{"type":"person","name":"Jane","external_id":"Q1","start_date":{"year":1775}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decode[graph.ResolveResult](t, rec)
	assert.Equal(t, common.StateComplete, first.Span.State())

	rec = s.do(http.MethodPost, "/api/spans/resolve", masterKey, `{"type":"place","name":"Jane","external_id":"Q1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "type_mismatch", decode[map[string]any](t, rec)["code"])

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/spans/resolve", masterKey, `{"type":"person"}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/spans/resolve?dry_run=maybe", masterKey, `{"type":"person","name":"A"}`).Code)

	rec = s.do(http.MethodDelete, "/api/spans/"+first.Span.ID, masterKey, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/spans/"+first.Span.ID, masterKey, "").Code)
}

func TestConnectionRoutes(t *testing.T) {
	s := newTestServer(t)
	person := decode[graph.ResolveResult](t, s.do(http.MethodPost, "/api/spans/resolve", masterKey, `{"type":"person","name":"Jane"}`)).Span
	place := decode[graph.ResolveResult](t, s.do(http.MethodPost, "/api/spans/resolve", masterKey, `{"type":"place","name":"Bath"}`)).Span

	draft := `{"parent_id":"` + place.ID + `","child_id":"` + person.ID + `","type":"residence"}`
	rec := s.do(http.MethodPost, "/api/connections/validate", masterKey, draft)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[map[string]any](t, rec)
	assert.Equal(t, false, res["valid"])

	rec = s.do(http.MethodPost, "/api/connections", masterKey, draft)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_endpoint_type", decode[map[string]any](t, rec)["code"])

	ok := `{"parent_id":"` + person.ID + `","child_id":"` + place.ID + `","type":"residence"}`
	rec = s.do(http.MethodPost, "/api/connections", masterKey, ok)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[graph.ConnectResult](t, rec)
	assert.Equal(t, "Jane lived in Bath", created.RelationshipSpan.Name)
}

func TestMergeAndRepairRoutes(t *testing.T) {
	s := newTestServer(t)
	a := decode[graph.ResolveResult](t, s.do(http.MethodPost, "/api/spans/resolve", masterKey, `{"type":"person","name":"Jane"}`)).Span
	b := decode[graph.ResolveResult](t, s.do(http.MethodPost, "/api/spans/resolve", masterKey, `{"type":"person","name":"Mary"}`)).Span

	rec := s.do(http.MethodGet, "/api/duplicates", masterKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"groups":[]}`, rec.Body.String())

	body := `{"target_id":"` + a.ID + `","source_id":"` + b.ID + `"}`
	rec = s.do(http.MethodPost, "/api/merges/preview", masterKey, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[graph.MergeResult](t, rec).Preview)

	rec = s.do(http.MethodPost, "/api/merges", masterKey, `{"target_id":"`+a.ID+`","source_id":"`+a.ID+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/merges", masterKey, body)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, "/api/merges", masterKey, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/repairs", masterKey, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	submitted := decode[map[string]any](t, rec)
	runID := submitted["run_id"].(string)
	require.Len(t, s.queue.requests, 1)
	assert.Equal(t, runID, s.queue.requests[0].RunID)
	assert.Equal(t, "admin-1", s.queue.requests[0].ActorID)

	_, err := s.engine.Graph.RunRepair(context.Background(), runID)
	require.NoError(t, err)

	rec = s.do(http.MethodGet, "/api/repairs/"+runID, masterKey, "")
	require.Equal(t, http.StatusOK, rec.Code)
	progress := decode[map[string]any](t, rec)
	assert.Equal(t, "completed", progress["status"])
	assert.Equal(t, float64(100), progress["percentage"])

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/repairs/nope", masterKey, "").Code)
}
