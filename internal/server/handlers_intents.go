package server

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"

	"themis/internal/chatbot"
)

func (a *App) listIntents(c *gin.Context) {
	records, err := listIntentRecords(c.Request.Context(), a.db)
	if err != nil {
		a.logger.Error("list intents failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to load intents")
		return
	}
	c.JSON(http.StatusOK, records)
}

func (a *App) frequentIntents(c *gin.Context) {
	limit := defaultFrequent
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxFrequent)
	}

	records, err := frequentIntentRecords(c.Request.Context(), a.db, limit)
	if err != nil {
		a.logger.Error("frequent intents failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to load intents")
		return
	}
	c.JSON(http.StatusOK, records)
}

type intentTitles []chatbot.IntentRecord

func (t intentTitles) String(i int) string { return t[i].Title }
func (t intentTitles) Len() int            { return len(t) }

func (a *App) searchIntents(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		writeError(c, http.StatusBadRequest, "q is required")
		return
	}

	records, err := listIntentRecords(c.Request.Context(), a.db)
	if err != nil {
		a.logger.Error("search intents failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to load intents")
		return
	}
	c.JSON(http.StatusOK, searchIntentTitles(records, q))
}

// searchIntentTitles ranks records by fuzzy title match. Accents and case are
// folded on both sides first.
func searchIntentTitles(records []chatbot.IntentRecord, q string) []chatbot.IntentRecord {
	folded := make(intentTitles, len(records))
	for i, rec := range records {
		folded[i] = rec
		folded[i].Title = chatbot.Normalize(rec.Title)
	}
	matches := fuzzy.FindFrom(chatbot.Normalize(q), folded)
	result := make([]chatbot.IntentRecord, 0, min(len(matches), maxSearchResults))
	for _, match := range matches {
		if len(result) == maxSearchResults {
			break
		}
		result = append(result, records[match.Index])
	}
	return result
}

func (a *App) createIntent(c *gin.Context) {
	var req intentRequest
	if !mustJSON(c, &req) {
		return
	}
	req, detail := req.normalized()
	if detail != "" {
		writeError(c, http.StatusBadRequest, detail)
		return
	}

	ctx := c.Request.Context()
	var id int64
	err := a.db.QueryRow(
		ctx,
		`INSERT INTO intents (title, patterns, responses, faq, usage_count, "updatedAt")
		 VALUES ($1, $2, $3, $4, 0, NOW())
		 RETURNING id`,
		req.Title,
		req.Patterns,
		req.Responses,
		req.FAQ,
	).Scan(&id)
	if err != nil {
		a.logger.Error("create intent failed", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to create intent")
		return
	}

	a.respondIntent(c, http.StatusCreated, id)
}

func (a *App) updateIntent(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req intentRequest
	if !mustJSON(c, &req) {
		return
	}
	req, detail := req.normalized()
	if detail != "" {
		writeError(c, http.StatusBadRequest, detail)
		return
	}

	tag, err := a.db.Exec(
		c.Request.Context(),
		`UPDATE intents
		 SET title = $1, patterns = $2, responses = $3, faq = $4, "updatedAt" = NOW()
		 WHERE id = $5`,
		req.Title,
		req.Patterns,
		req.Responses,
		req.FAQ,
		id,
	)
	if err != nil {
		a.logger.Error("update intent failed", zap.Int64("intent_id", id), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to update intent")
		return
	}
	if tag.RowsAffected() == 0 {
		writeError(c, http.StatusNotFound, "Intent not found")
		return
	}

	a.respondIntent(c, http.StatusOK, id)
}

func (a *App) deleteIntent(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var deleted int64
	err := pgx.BeginFunc(c.Request.Context(), a.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(c.Request.Context(), `DELETE FROM intents_files WHERE intent_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(c.Request.Context(), `DELETE FROM intents WHERE id = $1`, id)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		a.logger.Error("delete intent failed", zap.Int64("intent_id", id), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to delete intent")
		return
	}
	if deleted == 0 {
		writeError(c, http.StatusNotFound, "Intent not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "id": id})
}

func (a *App) attachIntentFiles(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req attachFilesRequest
	if !mustJSON(c, &req) {
		return
	}
	if len(req.Files) == 0 {
		writeError(c, http.StatusBadRequest, "files must not be empty")
		return
	}
	for _, file := range req.Files {
		if file.location() == "" {
			writeError(c, http.StatusBadRequest, "every file needs a path or url")
			return
		}
	}

	ctx := c.Request.Context()
	err := pgx.BeginFunc(ctx, a.db, func(tx pgx.Tx) error {
		exists, err := intentExists(ctx, tx, id)
		if err != nil {
			return err
		}
		if !exists {
			return errIntentNotFound
		}
		for _, file := range req.Files {
			if _, err := tx.Exec(
				ctx,
				`INSERT INTO intents_files (intent_id, url, name, file_type) VALUES ($1, $2, $3, $4)`,
				id,
				file.location(),
				file.displayName(),
				strings.TrimSpace(file.Type),
			); err != nil {
				return err
			}
		}
		_, err = tx.Exec(ctx, `UPDATE intents SET "updatedAt" = NOW() WHERE id = $1`, id)
		return err
	})
	if errors.Is(err, errIntentNotFound) {
		writeError(c, http.StatusNotFound, "Intent not found")
		return
	}
	if err != nil {
		a.logger.Error("attach files failed", zap.Int64("intent_id", id), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to attach files")
		return
	}

	a.respondIntent(c, http.StatusOK, id)
}

func (a *App) detachIntentFile(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var req detachFileRequest
	if !mustJSON(c, &req) {
		return
	}
	reference := strings.TrimSpace(req.Path)
	if reference == "" {
		writeError(c, http.StatusBadRequest, "path is required")
		return
	}

	ctx := c.Request.Context()
	tag, err := a.db.Exec(ctx, `DELETE FROM intents_files WHERE intent_id = $1 AND url = $2`, id, reference)
	if err != nil {
		a.logger.Error("detach file failed", zap.Int64("intent_id", id), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to remove file")
		return
	}
	if tag.RowsAffected() == 0 {
		writeError(c, http.StatusNotFound, "File not found")
		return
	}
	a.removeLocalDoc(ctx, reference)

	record, err := getIntentRecord(ctx, a.db, id)
	if err != nil {
		a.writeIntentLoadError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "File removed", "intent": record})
}

// removeLocalDoc deletes the file behind reference once no intent points at it.
func (a *App) removeLocalDoc(ctx context.Context, reference string) {
	path, ok := localDocPath(a.cfg.DocsDir, reference)
	if !ok {
		return
	}
	referenced, err := fileReferenced(ctx, a.db, reference)
	if err != nil {
		a.logger.Warn("attachment reference check failed; keeping file", zap.String("path", path), zap.Error(err))
		return
	}
	if referenced {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		a.logger.Warn("failed to remove attachment", zap.String("path", path), zap.Error(err))
	}
}

func (a *App) useIntent(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	count, err := incrementUsage(c.Request.Context(), a.db, id)
	if errors.Is(err, errIntentNotFound) {
		writeError(c, http.StatusNotFound, "Intent not found")
		return
	}
	if err != nil {
		a.logger.Error("usage increment failed", zap.Int64("intent_id", id), zap.Error(err))
		writeError(c, http.StatusInternalServerError, "Failed to update usage")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "newCount": count})
}

func (a *App) respondIntent(c *gin.Context, status int, id int64) {
	record, err := getIntentRecord(c.Request.Context(), a.db, id)
	if err != nil {
		a.writeIntentLoadError(c, id, err)
		return
	}
	c.JSON(status, record)
}

func (a *App) writeIntentLoadError(c *gin.Context, id int64, err error) {
	if errors.Is(err, errIntentNotFound) {
		writeError(c, http.StatusNotFound, "Intent not found")
		return
	}
	a.logger.Error("load intent failed", zap.Int64("intent_id", id), zap.Error(err))
	writeError(c, http.StatusInternalServerError, "Failed to load intent")
}
