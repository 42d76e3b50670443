package chatbot

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed builtin_intents.yaml
var builtinIntentsYAML []byte

type builtinIntent struct {
	Tag       string   `yaml:"tag"`
	Keywords  []string `yaml:"keywords"`
	Responses []string `yaml:"responses"`
	File      string   `yaml:"file"`
}

var loadBuiltins = sync.OnceValues(func() ([]Intent, error) {
	return ParseIntentsYAML(builtinIntentsYAML)
})

// Builtins returns a copy of the compiled-in intents.
func Builtins() []Intent {
	intents, err := loadBuiltins()
	if err != nil {
		panic(fmt.Sprintf("chatbot: embedded intents are invalid: %v", err))
	}
	out := make([]Intent, len(intents))
	copy(out, intents)
	return out
}

// ParseIntentsYAML reads a list of static intents. Every intent must have a
// tag, at least one keyword that survives normalization and one response.
func ParseIntentsYAML(data []byte) ([]Intent, error) {
	var raw []builtinIntent
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode intents yaml: %w", err)
	}

	intents := make([]Intent, 0, len(raw))
	for idx, item := range raw {
		keywords := make([]string, 0, len(item.Keywords))
		for _, k := range item.Keywords {
			if n := Normalize(k); n != "" {
				keywords = append(keywords, n)
			}
		}
		intent := Intent{
			Source:    Static(),
			Tag:       item.Tag,
			Keywords:  keywords,
			Responses: item.Responses,
		}
		if item.File != "" {
			file := item.File
			intent.File = &file
		}
		if item.Tag == "" {
			return nil, fmt.Errorf("intent #%d: tag is required", idx)
		}
		if !intent.Selectable() {
			return nil, fmt.Errorf("intent %q: needs keywords and responses", item.Tag)
		}
		intents = append(intents, intent)
	}
	return intents, nil
}
