// Package chatbot answers free-text questions by fuzzy-matching them against
// built-in and admin-managed intents.
//
// An [Engine] combines the compiled-in intents with the dynamic ones returned
// by an [IntentSource] on every call, scores them and replies with one of the
// winner's canned responses. When the winner came from the store, a
// [Notifier] is told about it without the caller waiting on it.
package chatbot

import (
	"strings"
	"time"
)

// UndefinedResponse replaces an empty response list on store records.
const UndefinedResponse = "Respuesta no definida"

type SourceKind int

const (
	SourceStatic SourceKind = iota
	SourceDynamic
)

func (k SourceKind) String() string {
	if k == SourceDynamic {
		return "dynamic"
	}
	return "static"
}

// Source says where an intent came from. Only dynamic intents carry an id.
type Source struct {
	Kind SourceKind
	id   int64
}

func Static() Source { return Source{Kind: SourceStatic} }

func Dynamic(id int64) Source { return Source{Kind: SourceDynamic, id: id} }

// ID returns the store id and true for dynamic sources.
func (s Source) ID() (int64, bool) {
	if s.Kind != SourceDynamic {
		return 0, false
	}
	return s.id, true
}

type Intent struct {
	Source    Source
	Tag       string
	Keywords  []string
	Responses []string
	File      *string
}

// Selectable reports whether the intent can ever be returned: without
// keywords it cannot match, without responses it has nothing to say.
func (i Intent) Selectable() bool {
	return len(i.Keywords) > 0 && len(i.Responses) > 0
}

// MatchResult is the only thing handed back to callers.
type MatchResult struct {
	Text string  `json:"text"`
	File *string `json:"file"`
}

// FileRecord is an attachment as stored. Older rows use path/filename,
// newer ones url/name.
type FileRecord struct {
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
}

// Location returns path, falling back to url.
func (f FileRecord) Location() string {
	if p := strings.TrimSpace(f.Path); p != "" {
		return p
	}
	return strings.TrimSpace(f.URL)
}

// IntentRecord is the wire and row shape of a store-backed intent.
type IntentRecord struct {
	ID         int64        `json:"id"`
	Title      string       `json:"title"`
	Patterns   []string     `json:"patterns"`
	Responses  []string     `json:"responses"`
	FAQ        bool         `json:"faq"`
	UsageCount int64        `json:"usage_count"`
	UpdatedAt  *time.Time   `json:"updatedAt,omitempty"`
	Files      []FileRecord `json:"files"`
}

// FromRecord maps a store record into the engine's intent shape.
func FromRecord(rec IntentRecord) Intent {
	keywords := make([]string, 0, len(rec.Patterns))
	for _, p := range rec.Patterns {
		if k := Normalize(p); k != "" {
			keywords = append(keywords, k)
		}
	}

	responses := make([]string, 0, len(rec.Responses))
	for _, r := range rec.Responses {
		if strings.TrimSpace(r) != "" {
			responses = append(responses, r)
		}
	}
	if len(responses) == 0 {
		responses = []string{UndefinedResponse}
	}

	var file *string
	if len(rec.Files) > 0 {
		if loc := rec.Files[0].Location(); loc != "" {
			file = &loc
		}
	}

	return Intent{
		Source:    Dynamic(rec.ID),
		Tag:       rec.Title,
		Keywords:  keywords,
		Responses: responses,
		File:      file,
	}
}

func FromRecords(recs []IntentRecord) []Intent {
	intents := make([]Intent, 0, len(recs))
	for _, rec := range recs {
		intents = append(intents, FromRecord(rec))
	}
	return intents
}
