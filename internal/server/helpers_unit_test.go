package server

import (
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"themis/internal/chatbot"
)

func TestClaimHasAudience(t *testing.T) {
	if !claimHasAudience("expected", "expected") {
		t.Fatalf("expected string audience to match")
	}
	if claimHasAudience("other", "expected") {
		t.Fatalf("expected mismatched string audience to fail")
	}
	if !claimHasAudience([]any{"x", "expected", "y"}, "expected") {
		t.Fatalf("expected []any audience to match")
	}
	if !claimHasAudience([]string{"x", "expected", "y"}, "expected") {
		t.Fatalf("expected []string audience to match")
	}
	if claimHasAudience(nil, "expected") {
		t.Fatalf("expected nil audience to fail")
	}
}

func TestNormalizeRole(t *testing.T) {
	role, ok := normalizeRole("  Editor ")
	if !ok || role != "editor" {
		t.Fatalf("expected editor, got %q ok=%v", role, ok)
	}
	if _, ok := normalizeRole("superuser"); ok {
		t.Fatalf("expected unknown role to fail")
	}
}

func TestRoleAllows(t *testing.T) {
	cases := []struct {
		role, minimum string
		want          bool
	}{
		{roleAdmin, roleEditor, true},
		{roleAdmin, roleAdmin, true},
		{roleEditor, roleEditor, true},
		{roleEditor, roleAdmin, false},
		{roleViewer, roleEditor, false},
		{"", roleViewer, false},
		{"root", roleViewer, false},
	}
	for _, tc := range cases {
		if got := roleAllows(tc.role, tc.minimum); got != tc.want {
			t.Fatalf("roleAllows(%q, %q) = %v, want %v", tc.role, tc.minimum, got, tc.want)
		}
	}
}

func TestIntentRequestNormalized(t *testing.T) {
	req, detail := intentRequest{
		Title:     "  Horarios ",
		Patterns:  []string{" horario ", "", "   "},
		Responses: []string{"De 8 a 14."},
	}.normalized()
	if detail != "" {
		t.Fatalf("unexpected validation failure: %s", detail)
	}
	if req.Title != "Horarios" {
		t.Fatalf("expected trimmed title, got %q", req.Title)
	}
	if len(req.Patterns) != 1 || req.Patterns[0] != "horario" {
		t.Fatalf("expected blank patterns dropped, got %v", req.Patterns)
	}

	if _, detail := (intentRequest{Title: "   "}).normalized(); detail != "title is required" {
		t.Fatalf("expected title is required, got %q", detail)
	}
}

func TestIntentFileInput(t *testing.T) {
	file := intentFileInput{Path: "/docs/mapa.pdf", URL: "https://cdn/mapa.pdf"}
	if file.location() != "/docs/mapa.pdf" {
		t.Fatalf("expected path to win, got %q", file.location())
	}
	if file.displayName() != "mapa.pdf" {
		t.Fatalf("expected base name fallback, got %q", file.displayName())
	}
	named := intentFileInput{URL: "https://cdn/x", Filename: "Plan.pdf"}
	if named.displayName() != "Plan.pdf" {
		t.Fatalf("expected filename, got %q", named.displayName())
	}
}

func TestValidatePassword(t *testing.T) {
	if validatePassword("short") == "" {
		t.Fatalf("expected short password to fail")
	}
	if detail := validatePassword("long-enough"); detail != "" {
		t.Fatalf("expected password to pass, got %q", detail)
	}
}

func TestLocalDocPath(t *testing.T) {
	got, ok := localDocPath("public/docs", "/docs/17-mapa.pdf")
	if !ok || got != filepath.Join("public/docs", "17-mapa.pdf") {
		t.Fatalf("unexpected path %q ok=%v", got, ok)
	}
	for _, reference := range []string{
		"/docs/../config.env",
		"/docs/nested/file.pdf",
		"/docs/",
		"https://cdn.example/a.pdf",
		"/other/a.pdf",
	} {
		if _, ok := localDocPath("public/docs", reference); ok {
			t.Fatalf("expected %q to be rejected", reference)
		}
	}
}

func TestSearchIntentTitles(t *testing.T) {
	records := []chatbot.IntentRecord{
		{ID: 1, Title: "Horarios de atención"},
		{ID: 2, Title: "Inscripción"},
		{ID: 3, Title: "Calendario académico"},
	}
	got := searchIntentTitles(records, "INSCRIP")
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("expected only Inscripción, got %+v", got)
	}
	if got := searchIntentTitles(records, "zzz"); len(got) != 0 {
		t.Fatalf("expected no matches, got %+v", got)
	}
}

func TestIssueTokenClaims(t *testing.T) {
	cfg := newTestConfig()
	cfg.JWTAudience = "themis-admin"
	cfg.JWTIssuer = "themis"
	app := New(cfg, nil, nil, nil)
	t.Cleanup(app.Close)

	now := time.Now().UTC()
	signed, err := app.issueToken(AuthUser{ID: 42, Username: "ana", Role: roleEditor}, now)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	}); err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims["sub"] != "42" || claims["role"] != roleEditor {
		t.Fatalf("unexpected claims: %v", claims)
	}
	if claims["aud"] != "themis-admin" || claims["iss"] != "themis" {
		t.Fatalf("expected aud/iss to be set, got %v", claims)
	}
	exp, _ := claims["exp"].(float64)
	if int64(exp) != now.Add(time.Hour).Unix() {
		t.Fatalf("expected exp one hour out, got %v", exp)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("hola", 10); got != "hola" {
		t.Fatalf("expected short input unchanged, got %q", got)
	}
	if got := truncateRunes("áéíóú", 3); got != "áéí" {
		t.Fatalf("expected rune-safe truncation, got %q", got)
	}
}

func TestNewChatResponse(t *testing.T) {
	file := "/docs/mapa.pdf"
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := newChatResponse(chatbot.MatchResult{Text: "Aquí está", File: &file}, now)
	if got.ID == "" || got.Text != "Aquí está" || got.File != &file || !got.Timestamp.Equal(now) {
		t.Fatalf("unexpected chat response: %+v", got)
	}
	if other := newChatResponse(chatbot.MatchResult{}, now); other.ID == got.ID {
		t.Fatalf("expected unique message ids")
	}
}

func TestEditorRoutesAuthenticateBeforeValidation(t *testing.T) {
	router := newUnitRouter(t, newTestConfig())
	rec := performRequest(t, router, http.MethodDelete, "/intents/abc/files", "", map[string]any{}, nil)
	// auth runs first, so an anonymous caller never reaches id parsing
	expectStatus(t, rec, http.StatusUnauthorized)
}
