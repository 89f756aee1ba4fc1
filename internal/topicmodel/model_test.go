package topicmodel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"view-aspects-go/internal/logger"
)

// groupEmbedder maps every document named "g<group>-<i>" onto the axis of its
// group, so each group forms one dense cluster.
type groupEmbedder struct {
	dim int
}

func (g *groupEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v := make([]float64, g.dim)
		var group, n int
		if _, err := fmt.Sscanf(t, "g%d-%d", &group, &n); err != nil || group >= g.dim-1 {
			// stray documents point somewhere far from every group
			v[g.dim-1] = 1
			v[0] = float64(len(t)%7) * 0.3
			out[i] = v
			continue
		}
		v[group] = 1
		out[i] = v
	}
	return out, nil
}

func groupDocs(groups, perGroup int) []string {
	var docs []string
	for n := 0; n < perGroup; n++ {
		for g := 0; g < groups; g++ {
			docs = append(docs, fmt.Sprintf("g%d-%d", g, n))
		}
	}
	return docs
}

func TestFit_FindsGroups(t *testing.T) {
	m := New(&groupEmbedder{dim: 6}, Config{Components: 3}, logger.Discard())
	require.NoError(t, m.Fit(context.Background(), groupDocs(3, 20)))

	labels := m.Topics()
	require.Len(t, labels, 60)
	byGroup := map[int]map[int]bool{}
	for i, l := range labels {
		g := i % 3
		if byGroup[g] == nil {
			byGroup[g] = map[int]bool{}
		}
		byGroup[g][l] = true
	}
	seen := map[int]bool{}
	for g := 0; g < 3; g++ {
		require.Len(t, byGroup[g], 1, "group %d split across topics", g)
		for l := range byGroup[g] {
			assert.NotEqual(t, Outlier, l)
			assert.False(t, seen[l], "two groups share topic %d", l)
			seen[l] = true
		}
	}

	merges := m.Hierarchy()
	require.Len(t, merges, 2)
	assert.Equal(t, 3, merges[1].Size)
}

func TestRepresentativeDocs_BoundedAndOutliersExcluded(t *testing.T) {
	docs := append(groupDocs(2, 15), "stray document")
	m := New(&groupEmbedder{dim: 5}, Config{Components: 3}, logger.Discard())
	require.NoError(t, m.Fit(context.Background(), docs))

	sets := m.RepresentativeDocs(4)
	require.Len(t, sets, 2)
	for _, s := range sets {
		assert.Len(t, s.Documents, 4)
		for _, d := range s.Documents {
			assert.NotEqual(t, "stray document", d)
			assert.True(t, strings.HasPrefix(d, "g"))
		}
	}

	assert.Nil(t, m.RepresentativeDocs(0))
	big := m.RepresentativeDocs(100)
	total := 0
	for _, s := range big {
		total += len(s.Documents)
	}
	assert.Equal(t, 30, total)
}

func TestRepresentativeDocs_DeduplicatesText(t *testing.T) {
	docs := []string{"g0-1", "g0-1", "g0-1", "g0-2", "g0-3", "g0-4", "g0-5", "g0-6"}
	m := New(&groupEmbedder{dim: 4}, Config{Components: 2, MinClusterSize: 3}, logger.Discard())
	require.NoError(t, m.Fit(context.Background(), docs))
	sets := m.RepresentativeDocs(10)
	require.Len(t, sets, 1)
	assert.Len(t, sets[0].Documents, 6)
}

func TestFit_TooFewDocuments(t *testing.T) {
	m := New(&groupEmbedder{dim: 4}, Config{}, logger.Discard())
	assert.ErrorIs(t, m.Fit(context.Background(), []string{"one"}), ErrTooFewDocuments)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float64, error) {
	return nil, errors.New("gpu on fire")
}

func TestFit_EmbedFailureIsReturned(t *testing.T) {
	m := New(failingEmbedder{}, Config{}, logger.Discard())
	err := m.Fit(context.Background(), groupDocs(1, 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gpu on fire")
}

// raggedEmbedder returns a nil vector for the document named "hole" and a shorter
// vector for "short".
type raggedEmbedder struct{}

func (raggedEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		switch t {
		case "hole":
		case "short":
			out[i] = []float64{1}
		default:
			out[i] = []float64{1, 0, 0}
		}
	}
	return out, nil
}

func TestFit_RaggedVectorsAreRejected(t *testing.T) {
	for _, bad := range []string{"hole", "short"} {
		t.Run(bad, func(t *testing.T) {
			docs := append(groupDocs(1, 6), bad)
			m := New(raggedEmbedder{}, Config{}, logger.Discard())
			var err error
			assert.NotPanics(t, func() { err = m.Fit(context.Background(), docs) })
			require.Error(t, err)
			assert.Contains(t, err.Error(), "vector 6")
		})
	}
}

func TestFit_NoDenseClusterFallsBackToSingleTopic(t *testing.T) {
	// two documents never reach the density threshold of 5
	m := New(&groupEmbedder{dim: 4}, Config{}, logger.Discard())
	require.NoError(t, m.Fit(context.Background(), []string{"g0-1", "g1-1"}))
	assert.Equal(t, []int{0, 0}, m.Topics())
	sets := m.RepresentativeDocs(5)
	require.Len(t, sets, 1)
	assert.Len(t, sets[0].Documents, 2)
}

func TestLinkageAndLeafOrder(t *testing.T) {
	centroids := [][]float64{
		{1, 0, 0},
		{0, 1, 0},
		{0.99, 0.1, 0},
	}
	merges := linkage(centroids)
	require.Len(t, merges, 2)
	assert.Equal(t, Merge{Left: 0, Right: 2, Distance: merges[0].Distance, Size: 2}, merges[0])
	assert.Equal(t, 1, merges[1].Left)
	assert.Equal(t, 3, merges[1].Right)
	assert.Equal(t, []int{1, 0, 2}, leafOrder(3, merges))
	assert.Equal(t, []int{0}, leafOrder(1, nil))
}

func TestRelabelBySize(t *testing.T) {
	labels := []int{0, 1, 1, 1, 2, 2, Outlier}
	assert.Equal(t, []int{Outlier, 0, 0, 0, 1, 1, Outlier}, relabelBySize(labels, 2))
}

func TestReduceKeepsRowsAndDims(t *testing.T) {
	vecs := [][]float64{{1, 2, 3, 4}, {2, 3, 4, 5}, {0, 1, 0, 1}, {5, 1, 2, 0}}
	out := reduce(vecs, 2)
	require.Len(t, out, 4)
	for _, v := range out {
		assert.Len(t, v, 2)
	}
	same := reduce(vecs, 10)
	assert.Equal(t, vecs, same)
}
