// Package prompts holds the prompt templates as YAML data. The embedded set
// is used unless PROMPTS_FILE points at an override with the same keys.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var embedded []byte

// Pair is a system/user message pair.
type Pair struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type Set struct {
	DirectTopics    Pair   `yaml:"direct_topics"`
	ClusteredTopics Pair   `yaml:"clustered_topics"`
	RAGQuery        string `yaml:"rag_query"`
	RAGAspect       Pair   `yaml:"rag_aspect"`
	SummariesAspect Pair   `yaml:"summaries_aspect"`
	ViewSummary     Pair   `yaml:"view_summary"`
	Illustration    string `yaml:"illustration"`
}

// TopicVars fills the topic discovery prompts.
type TopicVars struct {
	Documents  string
	UserPrompt string
	Language   string
}

// AspectVars fills the aspect prompts and the RAG query.
type AspectVars struct {
	Topic      string
	Context    string
	UserPrompt string
	Language   string
}

type ViewVars struct {
	Aspects    string
	UserPrompt string
	Language   string
}

type IllustrationVars struct {
	Title   string
	Summary string
}

// Default returns the embedded prompt set.
func Default() *Set {
	s, err := Parse(embedded)
	if err != nil {
		panic(fmt.Sprintf("embedded prompts: %v", err))
	}
	return s
}

// Load reads a prompt override file, or the embedded set when path is empty.
func Load(path string) (*Set, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	missing := []string{}
	for name, v := range map[string]string{
		"direct_topics.user":    s.DirectTopics.User,
		"clustered_topics.user": s.ClusteredTopics.User,
		"rag_query":             s.RAGQuery,
		"rag_aspect.user":       s.RAGAspect.User,
		"summaries_aspect.user": s.SummariesAspect.User,
		"view_summary.user":     s.ViewSummary.User,
		"illustration":          s.Illustration,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("parse prompts: missing %s", strings.Join(missing, ", "))
	}
	return &s, nil
}

// Render executes a template string against vars.
func Render(tmpl string, vars any) (string, error) {
	t, err := template.New("prompt").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return b.String(), nil
}
