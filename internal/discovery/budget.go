package discovery

import (
	"fmt"
	"math"
	"strings"

	"view-aspects-go/internal/tokens"
	"view-aspects-go/internal/topicmodel"
	"view-aspects-go/internal/types"
)

const (
	startReprDocs = 100
	minReprDocs   = 3
	shrinkFactor  = 0.75
	budgetShare   = 0.8
)

// Budget is the result of fitting representative documents to the token
// budget.
type Budget struct {
	Block string
	// NrReprDocs is the per-set cap that produced Block.
	NrReprDocs int
	Tokens     int
	Iterations int
}

// FitBudget extracts up to n representative documents per set, starting at
// 100, and shrinks n by 0.75 while the block exceeds 80% of threshold and n
// is above 3. n strictly decreases, so the loop ends after at most 12
// extractions.
func FitBudget(extract func(n int) []topicmodel.DocumentSet, counter tokens.Counter, threshold int) Budget {
	limit := float64(threshold) * budgetShare
	length := float64(threshold) * 1.1
	n := startReprDocs
	var b Budget
	for length > limit && n > minReprDocs {
		b.Block = formatSets(extract(n))
		b.Tokens = counter.Count(b.Block)
		b.NrReprDocs = n
		b.Iterations++
		length = float64(b.Tokens)
		n = int(math.RoundToEven(float64(n) * shrinkFactor))
	}
	return b
}

func formatSets(sets []topicmodel.DocumentSet) string {
	parts := make([]string, 0, len(sets))
	for _, s := range sets {
		if s.Topic == topicmodel.Outlier {
			continue
		}
		parts = append(parts, fmt.Sprintf("Document set %d : \n %s", s.Topic, strings.Join(s.Documents, "\n\n")))
	}
	return strings.Join(parts, "\n\n\n\n\n\n")
}

// SampleSummaries shuffles the summaries and keeps them while the running
// token count stays within 80% of threshold.
func SampleSummaries(summaries []types.SegmentSummary, counter tokens.Counter, threshold int, shuffle func(n int, swap func(i, j int))) []types.SegmentSummary {
	pool := append([]types.SegmentSummary(nil), summaries...)
	shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	limit := float64(threshold) * budgetShare
	total := 0
	var out []types.SegmentSummary
	for _, s := range pool {
		n := counter.Count(s.Summary)
		if float64(total+n) > limit {
			break
		}
		out = append(out, s)
		total += n
	}
	return out
}
