// Package tokens measures text length in model tokens.
package tokens

import (
	"math"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"view-aspects-go/internal/logger"
)

// Counter returns the number of tokens text occupies for a model.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(text string) int

func (f CounterFunc) Count(text string) int { return f(text) }

// Sum counts every text and adds the results.
func Sum(c Counter, texts []string) int {
	total := 0
	for _, t := range texts {
		total += c.Count(t)
	}
	return total
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Estimate approximates four characters per token. It is used when no BPE
// ranks are available for the model.
type Estimate struct{}

func (Estimate) Count(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4))
}

// ForModel returns the tokenizer matching model, falling back to cl100k_base
// and then to Estimate.
func ForModel(model string, log *logger.Logger) Counter {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return tiktokenCounter{enc: enc}
	}
	enc, fallbackErr := tiktoken.GetEncoding("cl100k_base")
	if fallbackErr == nil {
		if log != nil {
			log.WithField("model", model).Debug("no tokenizer for model, using cl100k_base")
		}
		return tiktokenCounter{enc: enc}
	}
	if log != nil {
		log.WithError(fallbackErr).WithField("model", model).Warn("tokenizer unavailable, estimating token counts")
	}
	return Estimate{}
}
