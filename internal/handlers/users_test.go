package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/drydock-sh/drydock/internal/database"
	"github.com/drydock-sh/drydock/internal/middleware"
)

func TestCreateUser_AndList(t *testing.T) {
	setupTestDB(t)

	rec := postJSON(t, CreateUser, "/api/v1/users", map[string]string{
		"username": "bob",
		"password": "secret123",
		"role":     "user",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Duplicate usernames are rejected.
	rec = postJSON(t, CreateUser, "/api/v1/users", map[string]string{
		"username": "bob",
		"password": "other",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate username, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	rec = httptest.NewRecorder()
	ListUsers(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var users []map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &users)
	if len(users) != 1 || users[0]["username"] != "bob" {
		t.Errorf("unexpected user list: %v", users)
	}
	if _, leaked := users[0]["password_hash"]; leaked {
		t.Error("password hash leaked in user list")
	}
}

func TestCreateUser_InvalidRole(t *testing.T) {
	setupTestDB(t)

	rec := postJSON(t, CreateUser, "/api/v1/users", map[string]string{
		"username": "bob",
		"password": "secret123",
		"role":     "superuser",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteUser_CannotDeleteSelf(t *testing.T) {
	setupTestDB(t)
	admin := createTestUser(t, "admin", "pw", "admin")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/"+strconv.Itoa(int(admin.ID)), nil)
	req = withURLParam(req, "userId", strconv.Itoa(int(admin.ID)))
	req = middleware.WithUserForTest(req, admin)
	rec := httptest.NewRecorder()
	DeleteUser(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteUser_InvalidatesLoginSessions(t *testing.T) {
	setupTestDB(t)
	admin := createTestUser(t, "admin", "pw", "admin")
	bob := createTestUser(t, "bob", "pw", "user")

	token, _ := SessionStore.Create(bob.ID)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/users/"+strconv.Itoa(int(bob.ID)), nil)
	req = withURLParam(req, "userId", strconv.Itoa(int(bob.ID)))
	req = middleware.WithUserForTest(req, admin)
	rec := httptest.NewRecorder()
	DeleteUser(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if _, err := database.GetUserByUsername("bob"); err == nil {
		t.Error("user still present after delete")
	}
	if _, ok := SessionStore.Get(token); ok {
		t.Error("deleted user's login session still valid")
	}
}

func TestResetUserPassword(t *testing.T) {
	setupTestDB(t)
	bob := createTestUser(t, "bob", "oldpass", "user")
	token, _ := SessionStore.Create(bob.ID)

	body, _ := json.Marshal(map[string]string{"password": "newpass"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/users/"+strconv.Itoa(int(bob.ID))+"/reset-password", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = withURLParam(req, "userId", strconv.Itoa(int(bob.ID)))
	rec := httptest.NewRecorder()
	ResetUserPassword(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, Login, "/api/v1/auth/login", map[string]string{
		"username": "bob",
		"password": "newpass",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("login with new password failed: %d", rec.Code)
	}
	if _, ok := SessionStore.Get(token); ok {
		t.Error("old login session survived password reset")
	}
}
