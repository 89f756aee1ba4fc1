package topicmodel

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

const (
	unvisited = -2
	// Outlier is the label of documents that belong to no cluster.
	Outlier = -1
)

// estimateEps picks the neighbourhood radius as the median distance from a
// point to its (minPts-1)-th nearest neighbour, over at most sampleSize
// evenly spaced points.
func estimateEps(points [][]float64, minPts, sampleSize int) float64 {
	n := len(points)
	if n < 2 {
		return 0
	}
	k := min(max(minPts-1, 1), n-1)
	step := max(n/sampleSize, 1)

	core := make([]float64, 0, n/step+1)
	dists := make([]float64, 0, n-1)
	for i := 0; i < n; i += step {
		dists = dists[:0]
		for j := range points {
			if i != j {
				dists = append(dists, floats.Distance(points[i], points[j], 2))
			}
		}
		sort.Float64s(dists)
		core = append(core, dists[k-1])
	}
	sort.Float64s(core)
	return core[len(core)/2]
}

// dbscan labels every point with a cluster id or Outlier. Clusters with fewer
// than minSize members are dissolved into outliers.
func dbscan(points [][]float64, eps float64, minPts, minSize int) []int {
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}

	region := func(p int) []int {
		var out []int
		for q := range points {
			if floats.Distance(points[p], points[q], 2) <= eps {
				out = append(out, q)
			}
		}
		return out
	}

	cluster := 0
	for p := range points {
		if labels[p] != unvisited {
			continue
		}
		neighbours := region(p)
		if len(neighbours) < minPts {
			labels[p] = Outlier
			continue
		}
		labels[p] = cluster
		queue := append([]int(nil), neighbours...)
		for len(queue) > 0 {
			q := queue[0]
			queue = queue[1:]
			if labels[q] == Outlier {
				labels[q] = cluster
			}
			if labels[q] != unvisited {
				continue
			}
			labels[q] = cluster
			if nq := region(q); len(nq) >= minPts {
				queue = append(queue, nq...)
			}
		}
		cluster++
	}
	return relabelBySize(labels, minSize)
}

// relabelBySize renumbers clusters so 0 is the largest, dissolving clusters
// below minSize.
func relabelBySize(labels []int, minSize int) []int {
	sizes := map[int]int{}
	for _, l := range labels {
		if l >= 0 {
			sizes[l]++
		}
	}
	ids := make([]int, 0, len(sizes))
	for id, size := range sizes {
		if size >= minSize {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if sizes[ids[i]] != sizes[ids[j]] {
			return sizes[ids[i]] > sizes[ids[j]]
		}
		return ids[i] < ids[j]
	})
	remap := make(map[int]int, len(ids))
	for newID, old := range ids {
		remap[old] = newID
	}
	out := make([]int, len(labels))
	for i, l := range labels {
		if id, ok := remap[l]; ok {
			out[i] = id
		} else {
			out[i] = Outlier
		}
	}
	return out
}
