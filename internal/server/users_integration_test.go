package server

import (
	"fmt"
	"net/http"
	"testing"
)

func TestAdminUserManagement(t *testing.T) {
	resetDatabase(t)
	adminID := seedUser(t, "admin", "password123", roleAdmin)
	router := newTestRouter(t)
	token := signToken(t, adminID, nil)

	created := performRequest(t, router, http.MethodPost, "/users", token, map[string]any{
		"username": "editora",
		"password": "password123",
		"role":     "Editor",
	}, nil)
	expectStatus(t, created, http.StatusCreated)
	user := decodeJSONMap(t, created)
	userID := int64(user["id"].(float64))
	if user["role"] != roleEditor {
		t.Fatalf("expected editor role, got %v", user["role"])
	}
	if _, leaked := user["password"]; leaked {
		t.Fatalf("password must not be returned")
	}

	duplicate := performRequest(t, router, http.MethodPost, "/users", token, map[string]any{
		"username": "editora",
		"password": "password123",
	}, nil)
	expectStatus(t, duplicate, http.StatusConflict)

	badRole := performRequest(t, router, http.MethodPost, "/users", token, map[string]any{
		"username": "x",
		"password": "password123",
		"role":     "owner",
	}, nil)
	expectStatus(t, badRole, http.StatusBadRequest)

	roleOnly := performRequest(t, router, http.MethodPut, fmt.Sprintf("/users/%d", userID), token, map[string]any{
		"role": "viewer",
	}, nil)
	expectStatus(t, roleOnly, http.StatusOK)
	if decodeJSONMap(t, roleOnly)["role"] != roleViewer {
		t.Fatalf("expected viewer after role update")
	}

	patched := performRequest(t, router, http.MethodPatch, fmt.Sprintf("/users/%d", userID), token, map[string]any{
		"username": "editora2",
		"role":     "editor",
		"password": "new-password-1",
	}, nil)
	expectStatus(t, patched, http.StatusOK)

	login := performRequest(t, router, http.MethodPost, "/auth/login", "", map[string]any{
		"username": "editora2",
		"password": "new-password-1",
	}, nil)
	expectStatus(t, login, http.StatusOK)

	list := performRequest(t, router, http.MethodGet, "/users", token, nil, nil)
	expectStatus(t, list, http.StatusOK)
	if users := decodeJSONList(t, list); len(users) != 2 {
		t.Fatalf("expected two users, got %v", users)
	}

	self := performRequest(t, router, http.MethodDelete, fmt.Sprintf("/users/%d", adminID), token, nil, nil)
	expectStatus(t, self, http.StatusBadRequest)

	deleted := performRequest(t, router, http.MethodDelete, fmt.Sprintf("/users/%d", userID), token, nil, nil)
	expectStatus(t, deleted, http.StatusOK)

	missing := performRequest(t, router, http.MethodPut, fmt.Sprintf("/users/%d", userID), token, map[string]any{
		"role": "viewer",
	}, nil)
	expectStatus(t, missing, http.StatusNotFound)
}

func TestPatchUserKeepsPasswordWhenOmitted(t *testing.T) {
	resetDatabase(t)
	adminID := seedUser(t, "admin", "password123", roleAdmin)
	userID := seedUser(t, "lector", "original-pass", roleViewer)
	router := newTestRouter(t)

	rec := performRequest(t, router, http.MethodPatch, fmt.Sprintf("/users/%d", userID), signToken(t, adminID, nil), map[string]any{
		"username": "lector",
		"role":     "editor",
	}, nil)
	expectStatus(t, rec, http.StatusOK)

	login := performRequest(t, router, http.MethodPost, "/auth/login", "", map[string]any{
		"username": "lector",
		"password": "original-pass",
	}, nil)
	expectStatus(t, login, http.StatusOK)
}
