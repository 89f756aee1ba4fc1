package topicmodel

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Merge joins two nodes of the topic tree. Leaves 0..k-1 are topics; the
// merge at position i creates node k+i.
type Merge struct {
	Left     int
	Right    int
	Distance float64
	Size     int
}

// linkage builds an average-linkage tree over topic centroids using cosine
// distance.
func linkage(centroids [][]float64) []Merge {
	k := len(centroids)
	if k < 2 {
		return nil
	}
	dist := make([][]float64, k)
	for i := range dist {
		dist[i] = make([]float64, k)
		for j := range dist[i] {
			if i != j {
				dist[i][j] = cosineDistance(centroids[i], centroids[j])
			}
		}
	}

	// active maps a node id to its current row in dist and member count.
	type node struct {
		row  int
		size int
	}
	active := make(map[int]node, k)
	for i := 0; i < k; i++ {
		active[i] = node{row: i, size: 1}
	}

	merges := make([]Merge, 0, k-1)
	next := k
	for len(active) > 1 {
		best := math.Inf(1)
		var a, b int
		for ia, na := range active {
			for ib, nb := range active {
				if ia >= ib {
					continue
				}
				if d := dist[na.row][nb.row]; d < best || (d == best && (ia < a || (ia == a && ib < b))) {
					best, a, b = d, ia, ib
				}
			}
		}
		na, nb := active[a], active[b]
		size := na.size + nb.size
		// reuse a's row for the merged node
		for _, other := range active {
			if other.row == na.row || other.row == nb.row {
				continue
			}
			d := (dist[na.row][other.row]*float64(na.size) + dist[nb.row][other.row]*float64(nb.size)) / float64(size)
			dist[na.row][other.row] = d
			dist[other.row][na.row] = d
		}
		delete(active, a)
		delete(active, b)
		active[next] = node{row: na.row, size: size}
		merges = append(merges, Merge{Left: a, Right: b, Distance: best, Size: size})
		next++
	}
	return merges
}

// leafOrder lists topics left to right in the tree so related topics end up
// next to each other.
func leafOrder(k int, merges []Merge) []int {
	if k == 0 {
		return nil
	}
	if len(merges) == 0 {
		order := make([]int, k)
		for i := range order {
			order[i] = i
		}
		return order
	}
	var walk func(id int, out []int) []int
	walk = func(id int, out []int) []int {
		if id < k {
			return append(out, id)
		}
		m := merges[id-k]
		out = walk(m.Left, out)
		return walk(m.Right, out)
	}
	return walk(k+len(merges)-1, make([]int, 0, k))
}

func cosineDistance(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - floats.Dot(a, b)/(na*nb)
}
