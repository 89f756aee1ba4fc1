package pipeline

import "fmt"

// Kind names the stage a pipeline failed in.
type Kind string

const (
	KindLoad      Kind = "load"
	KindDiscovery Kind = "discovery"
	KindContext   Kind = "context"
	KindSynthesis Kind = "synthesis"
	KindSummary   Kind = "summary"
	KindPersist   Kind = "persist"
)

// Error is the failure of one pipeline run.
type Error struct {
	Kind     Kind
	Pipeline string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s pipeline: %s: %v", e.Pipeline, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
