package llm

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"

	"view-aspects-go/internal/types"
)

// TopicList is the topic discovery result.
type TopicList struct {
	Topics []string `json:"topics" validate:"required"`
}

// AspectReport is the model's report for one topic, before reconciliation.
type AspectReport struct {
	Title       string                   `json:"title" validate:"required"`
	Description string                   `json:"description"`
	Summary     string                   `json:"summary" validate:"required"`
	Segments    []types.SegmentReference `json:"segments"`
}

type ViewSummary struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Summary     string `json:"summary" validate:"required"`
}

// Schema is a JSON schema ready for response_format.
type Schema struct {
	Name   string
	Schema map[string]any
}

var schemaCache sync.Map

// SchemaFor reflects the strict JSON schema of out's element type.
func SchemaFor(out any) (Schema, error) {
	t := reflect.TypeOf(out)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return Schema{}, fmt.Errorf("schema: %T is not a struct pointer", out)
	}
	if cached, ok := schemaCache.Load(t); ok {
		return cached.(Schema), nil
	}

	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	raw, err := json.Marshal(reflector.ReflectFromType(t))
	if err != nil {
		return Schema{}, fmt.Errorf("schema: marshal %s: %w", t.Name(), err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Schema{}, fmt.Errorf("schema: decode %s: %w", t.Name(), err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	makeStrict(m)

	s := Schema{Name: t.Name(), Schema: m}
	schemaCache.Store(t, s)
	return s, nil
}

// makeStrict applies the structured-output rules: every object closes its
// properties and requires all of them.
func makeStrict(node map[string]any) {
	if node["type"] == "object" {
		node["additionalProperties"] = false
		if props, ok := node["properties"].(map[string]any); ok {
			required := make([]string, 0, len(props))
			for name, p := range props {
				required = append(required, name)
				if child, ok := p.(map[string]any); ok {
					makeStrict(child)
				}
			}
			sort.Strings(required)
			node["required"] = required
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		makeStrict(items)
	}
}
