// Package topicmodel discovers topic clusters in a document list: embed,
// reduce with PCA, cluster by density, link clusters into a tree and pick
// representative documents per cluster.
//
// A Model holds the state of one fit. Build one per request; Fit mutates it.
package topicmodel

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"view-aspects-go/internal/embedding"
	"view-aspects-go/internal/logger"
)

// ErrTooFewDocuments is returned when there is not enough data to cluster.
var ErrTooFewDocuments = errors.New("topic model: too few documents to cluster")

type Config struct {
	// Components is the PCA output dimension.
	Components int
	// MinClusterSize is both the density threshold and the smallest cluster kept.
	MinClusterSize int
	// SampleSize caps the documents per cluster considered as representatives.
	SampleSize int
	// EpsSample caps the points used to estimate the neighbourhood radius.
	EpsSample int
}

func DefaultConfig() Config {
	return Config{Components: 10, MinClusterSize: 5, SampleSize: 1000, EpsSample: 2000}
}

// DocumentSet is the representative sample of one topic.
type DocumentSet struct {
	Topic     int
	Documents []string
}

type Model struct {
	cfg      Config
	embedder embedding.Embedder
	log      *logger.Logger

	docs      []string
	vectors   [][]float64
	labels    []int
	centroids [][]float64
	merges    []Merge
}

func New(embedder embedding.Embedder, cfg Config, log *logger.Logger) *Model {
	def := DefaultConfig()
	if cfg.Components <= 0 {
		cfg.Components = def.Components
	}
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = def.MinClusterSize
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = def.SampleSize
	}
	if cfg.EpsSample <= 0 {
		cfg.EpsSample = def.EpsSample
	}
	return &Model{cfg: cfg, embedder: embedder, log: log.Component("topicmodel")}
}

// Fit clusters docs. When density clustering finds no cluster at all, the
// whole corpus becomes topic 0 so downstream sampling still has material.
func (m *Model) Fit(ctx context.Context, docs []string) error {
	if len(docs) < 2 {
		return ErrTooFewDocuments
	}
	vecs, err := m.embedder.Embed(ctx, docs)
	if err != nil {
		return fmt.Errorf("topic model: embed: %w", err)
	}
	if len(vecs) != len(docs) {
		return fmt.Errorf("topic model: %d vectors for %d documents", len(vecs), len(docs))
	}
	dim := len(vecs[0])
	for i, v := range vecs {
		if len(v) == 0 || len(v) != dim {
			return fmt.Errorf("topic model: vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	normalize(vecs)

	reduced := reduce(vecs, m.cfg.Components)
	eps := estimateEps(reduced, m.cfg.MinClusterSize, m.cfg.EpsSample)
	labels := dbscan(reduced, eps, m.cfg.MinClusterSize, m.cfg.MinClusterSize)

	k := topicCount(labels)
	if k == 0 {
		m.log.WithField("documents", len(docs)).Warn("no dense cluster found, using a single topic")
		for i := range labels {
			labels[i] = 0
		}
		k = 1
	}

	m.docs = docs
	m.vectors = vecs
	m.labels = labels
	m.centroids = centroids(vecs, labels, k)
	m.merges = linkage(m.centroids)

	m.log.WithFields(logrus.Fields{
		"documents": len(docs),
		"topics":    k,
		"outliers":  countLabel(labels, Outlier),
		"eps":       eps,
	}).Info("topic model fitted")
	return nil
}

// Topics returns the topic label of every document, Outlier for none.
func (m *Model) Topics() []int {
	return append([]int(nil), m.labels...)
}

// Hierarchy returns the merge sequence of the topic tree.
func (m *Model) Hierarchy() []Merge {
	return append([]Merge(nil), m.merges...)
}

// RepresentativeDocs returns up to n documents per topic, outliers excluded,
// ordered by closeness to the topic centroid. Sets follow the tree's leaf
// order.
func (m *Model) RepresentativeDocs(n int) []DocumentSet {
	if n <= 0 || len(m.centroids) == 0 {
		return nil
	}
	members := make([][]int, len(m.centroids))
	for i, l := range m.labels {
		if l >= 0 && len(members[l]) < m.cfg.SampleSize {
			members[l] = append(members[l], i)
		}
	}

	sets := make([]DocumentSet, 0, len(m.centroids))
	for _, topic := range leafOrder(len(m.centroids), m.merges) {
		idx := members[topic]
		c := m.centroids[topic]
		sim := make(map[int]float64, len(idx))
		for _, i := range idx {
			sim[i] = floats.Dot(m.vectors[i], c)
		}
		sort.SliceStable(idx, func(a, b int) bool { return sim[idx[a]] > sim[idx[b]] })

		seen := map[string]bool{}
		docs := make([]string, 0, min(n, len(idx)))
		for _, i := range idx {
			if len(docs) == n {
				break
			}
			if d := m.docs[i]; !seen[d] {
				seen[d] = true
				docs = append(docs, d)
			}
		}
		sets = append(sets, DocumentSet{Topic: topic, Documents: docs})
	}
	return sets
}

func centroids(vecs [][]float64, labels []int, k int) [][]float64 {
	dim := len(vecs[0])
	out := make([][]float64, k)
	for i := range out {
		out[i] = make([]float64, dim)
	}
	for i, l := range labels {
		if l >= 0 {
			floats.Add(out[l], vecs[i])
		}
	}
	normalize(out)
	return out
}

func topicCount(labels []int) int {
	k := 0
	for _, l := range labels {
		if l+1 > k {
			k = l + 1
		}
	}
	return k
}

func countLabel(labels []int, want int) int {
	n := 0
	for _, l := range labels {
		if l == want {
			n++
		}
	}
	return n
}
