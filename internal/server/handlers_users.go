package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func (a *App) listUsers(c *gin.Context) {
	rows, err := a.db.Query(c.Request.Context(), `SELECT id, username, role FROM users ORDER BY id ASC`)
	if err != nil {
		a.logger.Error("list users failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to load users")
		return
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AuthUser, error) {
		var user AuthUser
		err := row.Scan(&user.ID, &user.Username, &user.Role)
		return user, err
	})
	if err != nil {
		a.logger.Error("scan users failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to load users")
		return
	}
	c.JSON(http.StatusOK, users)
}

func (a *App) createUser(c *gin.Context) {
	var req createUserRequest
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
	role := roleViewer
	if strings.TrimSpace(req.Role) != "" {
		var ok bool
		if role, ok = normalizeRole(req.Role); !ok {
			writeError(c, http.StatusBadRequest, "role must be admin, editor or viewer")
			return
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to hash password")
		return
	}
	user, err := insertUser(c.Request.Context(), a.db, username, string(hash), role)
	if isUniqueViolation(err) {
		writeError(c, http.StatusConflict, "Username already exists")
		return
	}
	if err != nil {
		a.logger.Error("create user failed", zap.String("username", username), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to create user")
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (a *App) updateUser(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req updateUserRequest
	if !mustJSON(c, &req) {
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		writeError(c, http.StatusBadRequest, "username is required")
		return
	}
	role, ok := normalizeRole(req.Role)
	if !ok {
		writeError(c, http.StatusBadRequest, "role must be admin, editor or viewer")
		return
	}

	var hash *string
	if req.Password != nil && *req.Password != "" {
		if detail := validatePassword(*req.Password); detail != "" {
			writeError(c, http.StatusBadRequest, detail)
			return
		}
		encoded, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(c, http.StatusInternalServerError, "Failed to hash password")
			return
		}
		value := string(encoded)
		hash = &value
	}

	user := AuthUser{ID: id}
	err := a.db.QueryRow(
		c.Request.Context(),
		`UPDATE users
		 SET username = $1, role = $2, password = COALESCE($3, password)
		 WHERE id = $4
		 RETURNING username, role`,
		username,
		role,
		hash,
		id,
	).Scan(&user.Username, &user.Role)
	a.respondUserWrite(c, user, err)
}

func (a *App) updateUserRole(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req updateRoleRequest
	if !mustJSON(c, &req) {
		return
	}
	role, ok := normalizeRole(req.Role)
	if !ok {
		writeError(c, http.StatusBadRequest, "role must be admin, editor or viewer")
		return
	}

	user := AuthUser{ID: id}
	err := a.db.QueryRow(
		c.Request.Context(),
		`UPDATE users SET role = $1 WHERE id = $2 RETURNING username, role`,
		role,
		id,
	).Scan(&user.Username, &user.Role)
	a.respondUserWrite(c, user, err)
}

func (a *App) deleteUser(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if current, ok := authUserFromContext(c); ok && current.ID == id {
		writeError(c, http.StatusBadRequest, "You cannot delete your own account")
		return
	}

	tag, err := a.db.Exec(c.Request.Context(), `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		a.logger.Error("delete user failed", zap.Int64("user_id", id), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to delete user")
		return
	}
	if tag.RowsAffected() == 0 {
		writeError(c, http.StatusNotFound, "User not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": id})
}

func (a *App) respondUserWrite(c *gin.Context, user AuthUser, err error) {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		writeError(c, http.StatusNotFound, "User not found")
	case isUniqueViolation(err):
		writeError(c, http.StatusConflict, "Username already exists")
	case err != nil:
		a.logger.Error("update user failed", zap.Int64("user_id", user.ID), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to update user")
	default:
		c.JSON(http.StatusOK, user)
	}
}
