// Package llmtest provides an in-memory llm.Completer for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"view-aspects-go/internal/llm"
)

// Call is one recorded completion.
type Call struct {
	Size     llm.Size
	Schema   string
	Messages []llm.Message
}

// UserText returns the last user message.
func (c Call) UserText() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == "user" {
			return c.Messages[i].Content
		}
	}
	return ""
}

// Fake answers completions with Respond, whose result is copied into out
// through JSON.
type Fake struct {
	Respond func(call Call) (any, error)

	mu    sync.Mutex
	calls []Call
}

func (f *Fake) Complete(_ context.Context, size llm.Size, messages []llm.Message, out any) error {
	t := reflect.TypeOf(out)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	call := Call{Size: size, Schema: t.Name(), Messages: append([]llm.Message(nil), messages...)}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.Respond == nil {
		return fmt.Errorf("llmtest: no response for %s", call.Schema)
	}
	v, err := f.Respond(call)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Calls returns the recorded calls in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsFor returns the recorded calls for one schema.
func (f *Fake) CallsFor(schema string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Schema == schema {
			out = append(out, c)
		}
	}
	return out
}

// Contains reports whether any message of c contains s.
func (c Call) Contains(s string) bool {
	for _, m := range c.Messages {
		if strings.Contains(m.Content, s) {
			return true
		}
	}
	return false
}
