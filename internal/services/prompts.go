package services

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"quizmaster-backend/internal/models"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

type PromptCatalog struct {
	System           string                       `yaml:"system"`
	JSONOnly         string                       `yaml:"json_only"`
	TypeInstructions map[models.QuizType]string   `yaml:"type_instructions"`
	Difficulty       map[models.Difficulty]string `yaml:"difficulty"`
	Schema           string                       `yaml:"schema"`
	TextHeader       string                       `yaml:"text_header"`
	TopicHeader      string                       `yaml:"topic_header"`
	RetryNudge       string                       `yaml:"retry_nudge"`
	TopicBrief       struct {
		System   string `yaml:"system"`
		Prompt   string `yaml:"prompt"`
		Fallback string `yaml:"fallback"`
	} `yaml:"topic_brief"`
}

// LoadPromptCatalog returns the embedded catalog, overlaid with the YAML file
// at path when one is given.
func LoadPromptCatalog(path string) (*PromptCatalog, error) {
	var c PromptCatalog
	if err := yaml.Unmarshal(defaultPromptsYAML, &c); err != nil {
		return nil, fmt.Errorf("failed to parse embedded prompts: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompts file: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("failed to parse prompts file %s: %w", path, err)
		}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// MustDefaultPrompts is for tests and tools that never override the catalog.
func MustDefaultPrompts() *PromptCatalog {
	c, err := LoadPromptCatalog("")
	if err != nil {
		panic(err)
	}
	return c
}

func (c *PromptCatalog) validate() error {
	if strings.TrimSpace(c.System) == "" || strings.TrimSpace(c.Schema) == "" {
		return fmt.Errorf("prompt catalog is missing system or schema text")
	}
	for _, t := range []models.QuizType{models.QuizTypeMCQ, models.QuizTypeTF, models.QuizTypeFIB, models.QuizTypeMix} {
		if strings.TrimSpace(c.TypeInstructions[t]) == "" {
			return fmt.Errorf("prompt catalog is missing instructions for quiz type %q", t)
		}
	}
	if !strings.Contains(c.TopicBrief.Prompt, "{topic}") {
		return fmt.Errorf("topic brief prompt must contain {topic}")
	}
	return nil
}

// BuildQuizPrompt assembles the generation prompt. Source text is cut to
// maxChars runes.
func (c *PromptCatalog) BuildQuizPrompt(opts models.QuizOptions, doc *models.SourceDocument, maxChars int) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Create a quiz with %d questions based on the %s below.\n", opts.Amount, sourceNoun(doc)))
	b.WriteString(strings.TrimSpace(c.TypeInstructions[opts.Type]))
	b.WriteString("\n")

	if d := c.Difficulty[opts.Difficulty]; d != "" {
		b.WriteString(strings.TrimSpace(d))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(c.JSONOnly)
	b.WriteString("\n\nSchema:\n")
	b.WriteString(strings.TrimSpace(c.Schema))
	b.WriteString("\n\n")

	if doc.Kind == models.SourceTopic {
		b.WriteString(c.TopicHeader)
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(doc.Reference))
		b.WriteString("\n\nBACKGROUND NOTES:\n")
	} else {
		b.WriteString(c.TextHeader)
		b.WriteString("\n")
	}
	b.WriteString(truncateRunes(doc.Text, maxChars))
	b.WriteString("\n")

	return b.String()
}

func (c *PromptCatalog) TopicBriefPrompt(topic string) string {
	return strings.ReplaceAll(c.TopicBrief.Prompt, "{topic}", topic)
}

func (c *PromptCatalog) TopicFallback(topic string) string {
	return strings.TrimSpace(strings.ReplaceAll(c.TopicBrief.Fallback, "{topic}", topic))
}

func sourceNoun(doc *models.SourceDocument) string {
	if doc.Kind == models.SourceTopic {
		return "topic"
	}
	return "text"
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
