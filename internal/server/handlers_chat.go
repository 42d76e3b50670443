package server

import (
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"themis/internal/chatbot"
)

type chatResponse struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	File      *string   `json:"file"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *App) chat(c *gin.Context) {
	var req chatRequest
	if !mustJSON(c, &req) {
		return
	}
	token, _ := bearerToken(c)
	result := a.engine.Respond(c.Request.Context(), truncateRunes(req.Message, maxChatMessageRune), token)
	c.JSON(http.StatusOK, newChatResponse(result, time.Now().UTC()))
}

// truncateRunes keeps the first limit runes of s. Only that prefix is matched.
func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func newChatResponse(result chatbot.MatchResult, now time.Time) chatResponse {
	return chatResponse{
		ID:        uuid.NewString(),
		Text:      result.Text,
		File:      result.File,
		Timestamp: now,
	}
}
