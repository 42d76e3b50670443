package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"themis/internal/config"
	"themis/internal/db"
)

var (
	testPool              *pgxpool.Pool
	baseTestConfig        config.Config
	integrationDBReady    bool
	integrationSkipReason string
)

const testSchemaSQL = `
CREATE TABLE IF NOT EXISTS users (
  id SERIAL PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'viewer'
);
CREATE TABLE IF NOT EXISTS intents (
  id SERIAL PRIMARY KEY,
  title TEXT NOT NULL,
  patterns TEXT[] NOT NULL DEFAULT '{}',
  responses TEXT[] NOT NULL DEFAULT '{}',
  faq BOOLEAN NOT NULL DEFAULT false,
  usage_count INTEGER DEFAULT 0,
  "updatedAt" TIMESTAMPTZ DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS intents_files (
  id SERIAL PRIMARY KEY,
  intent_id INTEGER NOT NULL REFERENCES intents(id) ON DELETE CASCADE,
  url TEXT NOT NULL,
  name TEXT,
  file_type TEXT
);`

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	baseTestConfig = newTestConfig()

	testDatabaseURL := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if testDatabaseURL == "" {
		integrationSkipReason = "integration tests skipped: TEST_DATABASE_URL is not set"
		fmt.Fprintln(os.Stderr, integrationSkipReason)
		os.Exit(m.Run())
	}
	testDatabaseURL = withSimpleProtocol(testDatabaseURL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.Connect(ctx, testDatabaseURL, 4)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "integration test setup failed: cannot connect TEST_DATABASE_URL: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	_, err = pool.Exec(ctx, testSchemaSQL)
	if err == nil {
		err = ValidateRuntimeSchema(ctx, pool)
	}
	cancel()
	if err != nil {
		pool.Close()
		fmt.Fprintf(os.Stderr, "integration test setup failed: %v\n", err)
		os.Exit(1)
	}

	testPool = pool
	integrationDBReady = true

	exitCode := m.Run()
	testPool.Close()
	os.Exit(exitCode)
}

func withSimpleProtocol(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	queries := parsed.Query()
	queries.Set("default_query_exec_mode", "simple_protocol")
	parsed.RawQuery = queries.Encode()
	return parsed.String()
}

func newTestConfig() config.Config {
	cfg := config.Config{
		AppEnv:         "test",
		AppName:        "Themis API Test",
		AppPort:        "0",
		DatabaseURL:    "test",
		DBMaxConns:     4,
		JWTSecret:      "test-secret-1234567890",
		JWTAlgorithm:   "HS256",
		JWTTTLHours:    1,
		MatchThreshold: 0.88,
		MatchTieBreak:  config.TieBreakListOrder,
		DocsDir:        "public/docs",
		CORSAllowOrigins: []string{
			"http://localhost:3000",
		},
	}

	if v := strings.TrimSpace(os.Getenv("TEST_JWT_SECRET")); v != "" {
		cfg.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("TEST_JWT_AUDIENCE")); v != "" {
		cfg.JWTAudience = v
	}
	if v := strings.TrimSpace(os.Getenv("TEST_JWT_ISSUER")); v != "" {
		cfg.JWTIssuer = v
	}
	return cfg
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if !integrationDBReady {
		if integrationSkipReason == "" {
			integrationSkipReason = "integration tests skipped: TEST_DATABASE_URL is not configured"
		}
		t.Skip(integrationSkipReason)
	}
}

// newUnitRouter serves routes that never reach the database.
func newUnitRouter(t *testing.T, cfg config.Config) *gin.Engine {
	t.Helper()
	app := New(cfg, nil, nil, nil)
	t.Cleanup(app.Close)
	return app.Router()
}

func newTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	requireIntegration(t)
	app := New(cfg, testPool, nil, nil)
	t.Cleanup(app.Close)
	return app
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return newTestApp(t, baseTestConfig).Router()
}

func resetDatabase(t *testing.T) {
	t.Helper()
	requireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := testPool.Exec(ctx, `TRUNCATE TABLE intents_files, intents, users RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("reset database: %v", err)
	}
}

func seedUser(t *testing.T, username, password, role string) int64 {
	t.Helper()
	requireIntegration(t)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user, err := insertUser(ctx, testPool, username, string(hash), role)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user.ID
}

func seedIntent(t *testing.T, title string, patterns, responses []string, usage int) int64 {
	t.Helper()
	requireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if patterns == nil {
		patterns = []string{}
	}
	if responses == nil {
		responses = []string{}
	}

	var id int64
	err := testPool.QueryRow(
		ctx,
		`INSERT INTO intents (title, patterns, responses, faq, usage_count, "updatedAt")
		 VALUES ($1, $2, $3, false, $4, NOW())
		 RETURNING id`,
		title,
		patterns,
		responses,
		usage,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed intent: %v", err)
	}
	return id
}

func seedIntentFile(t *testing.T, intentID int64, location, name string) {
	t.Helper()
	requireIntegration(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := testPool.Exec(
		ctx,
		`INSERT INTO intents_files (intent_id, url, name, file_type) VALUES ($1, $2, $3, 'application/pdf')`,
		intentID,
		location,
		name,
	); err != nil {
		t.Fatalf("seed intent file: %v", err)
	}
}

func usageCount(t *testing.T, intentID int64) int64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int64
	if err := testPool.QueryRow(ctx, `SELECT COALESCE(usage_count, 0) FROM intents WHERE id = $1`, intentID).Scan(&count); err != nil {
		t.Fatalf("read usage count: %v", err)
	}
	return count
}

func signToken(t *testing.T, userID int64, overrides map[string]any) string {
	t.Helper()
	return signTokenWithConfig(t, baseTestConfig, userID, overrides)
}

func signTokenWithConfig(t *testing.T, cfg config.Config, userID int64, overrides map[string]any) string {
	t.Helper()

	claims := jwt.MapClaims{
		"exp": time.Now().UTC().Add(1 * time.Hour).Unix(),
		"iat": time.Now().UTC().Add(-1 * time.Minute).Unix(),
	}
	if userID > 0 {
		claims["sub"] = strconv.FormatInt(userID, 10)
	}
	if strings.TrimSpace(cfg.JWTAudience) != "" {
		claims["aud"] = cfg.JWTAudience
	}
	if strings.TrimSpace(cfg.JWTIssuer) != "" {
		claims["iss"] = cfg.JWTIssuer
	}
	for key, value := range overrides {
		if value == nil {
			delete(claims, key)
			continue
		}
		claims[key] = value
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func performRequest(
	t *testing.T,
	router http.Handler,
	method, targetPath, token string,
	body any,
	headers map[string]string,
) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, targetPath, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSONMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response JSON: %v; body=%s", err, rec.Body.String())
	}
	return payload
}

func decodeJSONList(t *testing.T, rec *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var payload []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response JSON list: %v; body=%s", err, rec.Body.String())
	}
	return payload
}

func responseDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeJSONMap(t, rec)
	detail, _ := body["detail"].(string)
	return detail
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d body=%s", want, rec.Code, rec.Body.String())
	}
}
