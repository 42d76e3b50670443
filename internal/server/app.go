package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"themis/internal/chatbot"
	"themis/internal/config"
	"themis/internal/observe"
)

const (
	roleAdmin  = "admin"
	roleEditor = "editor"
	roleViewer = "viewer"
)

// Higher rank includes every permission of the lower ones.
var roleRank = map[string]int{
	roleViewer: 1,
	roleEditor: 2,
	roleAdmin:  3,
}

type dbQuerier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type App struct {
	cfg      config.Config
	db       *pgxpool.Pool
	logger   *zap.Logger
	metrics  *observe.Metrics
	promHTTP http.Handler
	engine   *chatbot.Engine
	reporter *chatbot.UsageReporter
}

type AuthUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// New wires the API. provider may be nil, in which case metrics are dropped
// and /metrics is not served.
func New(cfg config.Config, db *pgxpool.Pool, logger *zap.Logger, provider *observe.Provider) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, db: db, logger: logger, metrics: observe.Nop()}
	if provider != nil {
		a.metrics = provider.Metrics
		a.promHTTP = provider.Handler()
	}

	tieBreak, _ := chatbot.ParseTieBreak(cfg.MatchTieBreak)
	store := storeIntents{app: a}
	a.reporter = chatbot.NewUsageReporter(store, logger.Named("usage"), a.metrics)
	a.engine = chatbot.New(store, a.reporter,
		chatbot.WithThreshold(cfg.MatchThreshold),
		chatbot.WithTieBreak(tieBreak),
		chatbot.WithMetrics(a.metrics),
		chatbot.WithLogger(logger.Named("engine")),
	)
	return a
}

// Close waits for pending usage notifications.
func (a *App) Close() {
	a.reporter.Close()
}

func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(observe.GinMiddleware(a.metrics, a.logger.Named("http")), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", observe.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", a.health)
	if a.promHTTP != nil {
		router.GET("/metrics", gin.WrapH(a.promHTTP))
	}
	router.Static("/docs", a.cfg.DocsDir)

	auth := router.Group("/auth")
	auth.POST("/register", a.register)
	auth.POST("/login", a.login)
	auth.GET("", a.authMiddleware(), a.me)

	router.POST("/chat", a.chat)

	intents := router.Group("/intents")
	intents.GET("", a.listIntents)
	intents.GET("/frequent", a.frequentIntents)
	intents.GET("/search", a.searchIntents)
	intents.POST("/:id/use", a.useIntent)

	editors := intents.Group("", a.authMiddleware(), a.requireRole(roleEditor))
	editors.POST("", a.createIntent)
	editors.PUT("/:id", a.updateIntent)
	editors.DELETE("/:id", a.deleteIntent)
	editors.POST("/:id/files", a.attachIntentFiles)
	editors.DELETE("/:id/files", a.detachIntentFile)

	users := router.Group("/users", a.authMiddleware(), a.requireRole(roleAdmin))
	users.GET("", a.listUsers)
	users.POST("", a.createUser)
	users.PATCH("/:id", a.updateUser)
	users.PUT("/:id", a.updateUserRole)
	users.DELETE("/:id", a.deleteUser)

	return router
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "themis-api",
	})
}

func (a *App) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if token.Method == nil || token.Method.Alg() != a.cfg.JWTAlgorithm {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(a.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(c, http.StatusUnauthorized, "Invalid bearer token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeError(c, http.StatusUnauthorized, "Invalid token payload")
			return
		}
		if a.cfg.JWTAudience != "" && !claimHasAudience(claims["aud"], a.cfg.JWTAudience) {
			writeError(c, http.StatusUnauthorized, "Invalid token audience")
			return
		}
		if a.cfg.JWTIssuer != "" {
			issuer, _ := claims["iss"].(string)
			if issuer != a.cfg.JWTIssuer {
				writeError(c, http.StatusUnauthorized, "Invalid token issuer")
				return
			}
		}
		sub, _ := claims["sub"].(string)
		userID, err := strconv.ParseInt(strings.TrimSpace(sub), 10, 64)
		if err != nil || userID <= 0 {
			writeError(c, http.StatusUnauthorized, "Token subject missing")
			return
		}

		user, err := findUserByID(c.Request.Context(), a.db, userID)
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusUnauthorized, "User not found")
			return
		}
		if err != nil {
			a.logger.Error("auth user lookup failed", zap.Int64("user_id", userID), zap.Error(err))
			writeError(c, http.StatusInternalServerError, "Failed to load user")
			return
		}

		c.Set("authUser", user)
		c.Next()
	}
}

// requireRole must run after authMiddleware.
func (a *App) requireRole(minimum string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := authUserFromContext(c)
		if !ok {
			writeError(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if !roleAllows(user.Role, minimum) {
			writeError(c, http.StatusForbidden, "Insufficient role for this action")
			return
		}
		c.Next()
	}
}

func roleAllows(role, minimum string) bool {
	have, ok := roleRank[role]
	if !ok {
		return false
	}
	return have >= roleRank[minimum]
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authHeader[len("Bearer "):])
	return token, token != ""
}

func claimHasAudience(value any, audience string) bool {
	switch v := value.(type) {
	case string:
		return v == audience
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == audience {
				return true
			}
		}
	case []string:
		for _, item := range v {
			if item == audience {
				return true
			}
		}
	}
	return false
}

// issueToken signs the login token. The subject is the numeric user id.
func (a *App) issueToken(user AuthUser, now time.Time) (string, error) {
	method := jwt.GetSigningMethod(a.cfg.JWTAlgorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported JWT_ALGORITHM %q", a.cfg.JWTAlgorithm)
	}
	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(user.ID, 10),
		"role": user.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(time.Duration(a.cfg.JWTTTLHours) * time.Hour).Unix(),
	}
	if a.cfg.JWTAudience != "" {
		claims["aud"] = a.cfg.JWTAudience
	}
	if a.cfg.JWTIssuer != "" {
		claims["iss"] = a.cfg.JWTIssuer
	}
	return jwt.NewWithClaims(method, claims).SignedString([]byte(a.cfg.JWTSecret))
}

func authUserFromContext(c *gin.Context) (AuthUser, bool) {
	raw, ok := c.Get("authUser")
	if !ok {
		return AuthUser{}, false
	}
	user, ok := raw.(AuthUser)
	return user, ok
}

func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func mustJSON(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}

func parseIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
