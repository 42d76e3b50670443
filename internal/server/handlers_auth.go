package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func (a *App) register(c *gin.Context) {
	if !a.cfg.AuthAllowRegister {
		writeError(c, http.StatusForbidden, "Registration is disabled")
		return
	}

	var req credentialsRequest
	if !mustJSON(c, &req) {
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		writeError(c, http.StatusBadRequest, "username is required")
		return
	}
	if detail := validatePassword(req.Password); detail != "" {
		writeError(c, http.StatusBadRequest, detail)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to hash password")
		return
	}
	user, err := insertUser(c.Request.Context(), a.db, username, string(hash), roleViewer)
	if isUniqueViolation(err) {
		writeError(c, http.StatusConflict, "Username already exists")
		return
	}
	if err != nil {
		a.logger.Error("register failed", zap.String("username", username), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to register user")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (a *App) login(c *gin.Context) {
	var req credentialsRequest
	if !mustJSON(c, &req) {
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(c, http.StatusBadRequest, "username and password are required")
		return
	}

	user, hash, err := findUserCredentials(c.Request.Context(), a.db, username)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		a.logger.Error("login lookup failed", zap.String("username", username), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to load user")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		writeError(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := a.issueToken(user, time.Now().UTC())
	if err != nil {
		a.logger.Error("token signing failed", zap.Int64("user_id", user.ID), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  user,
	})
}

func (a *App) me(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
