package server

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	minPasswordLength  = 8
	maxChatMessageRune = 1000
	defaultFrequent    = 5
	maxFrequent        = 50
	maxSearchResults   = 20
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type updateUserRequest struct {
	Username string  `json:"username"`
	Password *string `json:"password"`
	Role     string  `json:"role"`
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

type intentRequest struct {
	Title     string   `json:"title"`
	Patterns  []string `json:"patterns"`
	Responses []string `json:"responses"`
	FAQ       bool     `json:"faq"`
}

type intentFileInput struct {
	Path     string `json:"path"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

type attachFilesRequest struct {
	Files []intentFileInput `json:"files"`
}

type detachFileRequest struct {
	Path string `json:"path"`
}

type chatRequest struct {
	Message string `json:"message"`
}

func normalizeRole(input string) (string, bool) {
	role := strings.ToLower(strings.TrimSpace(input))
	_, ok := roleRank[role]
	return role, ok
}

// cleanStrings trims every entry and drops the blank ones.
func cleanStrings(values []string) []string {
	result := make([]string, 0, len(values))
	for _, item := range values {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func (r intentRequest) normalized() (intentRequest, string) {
	out := intentRequest{
		Title:     strings.TrimSpace(r.Title),
		Patterns:  cleanStrings(r.Patterns),
		Responses: cleanStrings(r.Responses),
		FAQ:       r.FAQ,
	}
	if out.Title == "" {
		return out, "title is required"
	}
	if utf8.RuneCountInString(out.Title) > 200 {
		return out, "title must be at most 200 characters"
	}
	return out, ""
}

func (f intentFileInput) location() string {
	if loc := strings.TrimSpace(f.Path); loc != "" {
		return loc
	}
	return strings.TrimSpace(f.URL)
}

func (f intentFileInput) displayName() string {
	for _, candidate := range []string{f.Name, f.Filename} {
		if name := strings.TrimSpace(candidate); name != "" {
			return name
		}
	}
	return filepath.Base(f.location())
}

func validatePassword(password string) string {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return "password must be at least 8 characters"
	}
	return ""
}

// localDocPath maps a public /docs/<name> reference to the file on disk.
// Only direct children of docsDir are resolved.
func localDocPath(docsDir, reference string) (string, bool) {
	const prefix = "/docs/"
	if docsDir == "" || !strings.HasPrefix(reference, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(reference, prefix)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", false
	}
	return filepath.Join(docsDir, name), true
}
