package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/drydock-sh/drydock/internal/catalog"
	"github.com/drydock-sh/drydock/internal/config"
	"github.com/drydock-sh/drydock/internal/database"
	"github.com/drydock-sh/drydock/internal/middleware"
	"github.com/drydock-sh/drydock/internal/monitor"
	"github.com/drydock-sh/drydock/internal/runtime"
	"github.com/drydock-sh/drydock/internal/session"
)

// setupOrchestrator wires the handler package's shared state to in-memory
// fakes for one test.
func setupOrchestrator(t *testing.T) *runtime.FakeAdapter {
	t.Helper()
	setupTestDB(t)

	cat, err := catalog.New([]catalog.Profile{
		{Name: "default", Image: "ubuntu:24.04"},
		{Name: "alpine", Image: "alpine:latest"},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	fake := runtime.NewFakeAdapter()
	reg := session.NewRegistry(fake, cat, session.Config{
		MaxPerUser:  5,
		IdleTimeout: 30 * time.Minute,
		MaxAge:      8 * time.Hour,
	})
	reg.OnClosed = func(s *session.Session, reason string) {
		database.RecordSessionEnd(&database.SessionLog{
			SessionID: s.ID,
			UserID:    s.UserID,
			Profile:   s.Profile,
			Shell:     s.Shell,
			RuntimeID: s.RuntimeID(),
			Reason:    reason,
			StartedAt: s.CreatedAt,
			EndedAt:   time.Now(),
		})
	}

	Registry = reg
	Catalog = cat
	Reconciler = session.NewReconciler(reg, fake)
	Monitor = monitor.New(fake, reg)
	Adapter = fake
	return fake
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestListSessions_FiltersByRole(t *testing.T) {
	setupOrchestrator(t)
	admin := createTestUser(t, "admin", "pw", "admin")
	alice := createTestUser(t, "alice", "pw", "user")

	if _, err := Registry.Create(context.Background(), alice.ID, 80, 24, "/bin/bash", "default"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := Registry.Create(context.Background(), admin.ID, 80, 24, "/bin/bash", "default"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	list := func(u *database.User) []sessionResponse {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
		req = middleware.WithUserForTest(req, u)
		rec := httptest.NewRecorder()
		ListSessions(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Sessions []sessionResponse `json:"sessions"`
		}
		json.Unmarshal(rec.Body.Bytes(), &resp)
		return resp.Sessions
	}

	if got := list(admin); len(got) != 2 {
		t.Errorf("admin should see 2 sessions, got %d", len(got))
	}
	got := list(alice)
	if len(got) != 1 {
		t.Fatalf("user should see 1 session, got %d", len(got))
	}
	if got[0].UserID != alice.ID || got[0].State != "active" {
		t.Errorf("unexpected session entry: %+v", got[0])
	}
}

func TestTerminateSession_DestroysEnvironment(t *testing.T) {
	fake := setupOrchestrator(t)
	config.Cfg.TerminationGrace = time.Millisecond

	s, err := Registry.Create(context.Background(), 1, 80, 24, "/bin/bash", "default")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	runtimeID := s.RuntimeID()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+s.ID, nil)
	req = withURLParam(req, "sessionId", s.ID)
	rec := httptest.NewRecorder()
	TerminateSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if Registry.Count() != 0 {
		t.Error("session still registered after terminate")
	}
	destroyed := fake.Destroyed()
	if len(destroyed) != 1 || destroyed[0] != runtimeID {
		t.Errorf("expected environment %s destroyed, got %v", runtimeID, destroyed)
	}

	// Terminating again is a 404, not a crash.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+s.ID, nil)
	req = withURLParam(req, "sessionId", s.ID)
	rec = httptest.NewRecorder()
	TerminateSession(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on repeat terminate, got %d", rec.Code)
	}
}

func TestSessionHistory_RecordsTerminations(t *testing.T) {
	setupOrchestrator(t)
	config.Cfg.TerminationGrace = time.Millisecond

	s, err := Registry.Create(context.Background(), 7, 80, 24, "/bin/bash", "alpine")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	Registry.Terminate(context.Background(), s.ID, "terminated by administrator")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/history", nil)
	rec := httptest.NewRecorder()
	SessionHistory(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		History []database.SessionLog `json:"history"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.History) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(resp.History))
	}
	row := resp.History[0]
	if row.SessionID != s.ID || row.UserID != 7 || row.Profile != "alpine" || row.Reason != "terminated by administrator" {
		t.Errorf("unexpected history row: %+v", row)
	}
}

func TestListOrphans_ReportsUnownedEnvironments(t *testing.T) {
	fake := setupOrchestrator(t)
	fake.ExtraRunning = []string{"stale-1", "stale-2"}

	if _, err := Registry.Create(context.Background(), 1, 80, 24, "/bin/bash", "default"); err != nil {
		t.Fatalf("create session: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orphans", nil)
	rec := httptest.NewRecorder()
	ListOrphans(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Orphans []string `json:"orphans"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Orphans) != 2 {
		t.Fatalf("expected 2 orphans, got %v", resp.Orphans)
	}
}

func TestDestroyOrphan_RefusesOwnedEnvironment(t *testing.T) {
	fake := setupOrchestrator(t)
	fake.ExtraRunning = []string{"stale-1"}

	s, err := Registry.Create(context.Background(), 1, 80, 24, "/bin/bash", "default")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// An owned environment is not an orphan and must not be destroyable here.
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/orphans/"+s.RuntimeID(), nil)
	req = withURLParam(req, "runtimeId", s.RuntimeID())
	rec := httptest.NewRecorder()
	DestroyOrphan(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for owned environment, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/orphans/stale-1", nil)
	req = withURLParam(req, "runtimeId", "stale-1")
	rec = httptest.NewRecorder()
	DestroyOrphan(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	destroyed := fake.Destroyed()
	if len(destroyed) != 1 || destroyed[0] != "stale-1" {
		t.Errorf("expected only stale-1 destroyed, got %v", destroyed)
	}
	if Registry.Count() != 1 {
		t.Error("orphan destroy touched the registry")
	}
}

func TestGetStats_ReturnsSnapshot(t *testing.T) {
	setupOrchestrator(t)

	if _, err := Registry.Create(context.Background(), 1, 80, 24, "/bin/bash", "default"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	Monitor.Poll(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	GetStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Sessions  []monitor.SessionStats `json:"sessions"`
		Aggregate monitor.HostStats      `json:"aggregate"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Sessions) != 1 || resp.Aggregate.Sessions != 1 {
		t.Errorf("unexpected stats: %+v", resp)
	}
}

func TestListProfiles(t *testing.T) {
	setupOrchestrator(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/profiles", nil)
	rec := httptest.NewRecorder()
	ListProfiles(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Profiles []catalog.Profile `json:"profiles"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(resp.Profiles))
	}
	if resp.Profiles[0].Name != "alpine" || resp.Profiles[1].Name != "default" {
		t.Errorf("profiles not sorted by name: %+v", resp.Profiles)
	}
}

func TestBuildProfileImage_StreamsProgress(t *testing.T) {
	setupOrchestrator(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/profiles/default/build", nil)
	req = withURLParam(req, "name", "default")
	rec := httptest.NewRecorder()
	BuildProfileImage(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if body == "" || !containsLine(body, "DONE") {
		t.Errorf("expected streamed progress ending in DONE, got %q", body)
	}
}

func TestBuildProfileImage_ReportsFailure(t *testing.T) {
	fake := setupOrchestrator(t)
	fake.BuildErr = &runtime.BuildError{Profile: "default", Detail: "no such base image"}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/profiles/default/build", nil)
	req = withURLParam(req, "name", "default")
	rec := httptest.NewRecorder()
	BuildProfileImage(rec, req)

	if !containsLine(rec.Body.String(), "ERROR: no such base image") {
		t.Errorf("expected build error in stream, got %q", rec.Body.String())
	}
}

func containsLine(body, want string) bool {
	for _, line := range strings.Split(body, "\n") {
		if line == want {
			return true
		}
	}
	return false
}
