package topicmodel

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// normalize scales every vector to unit length in place so euclidean
// distance orders pairs the same way cosine distance does.
func normalize(vecs [][]float64) {
	for _, v := range vecs {
		if n := floats.Norm(v, 2); n > 0 {
			floats.Scale(1/n, v)
		}
	}
}

// reduce projects vecs onto their first k principal components. When the
// decomposition fails or there is nothing to reduce, vecs is returned as is.
func reduce(vecs [][]float64, k int) [][]float64 {
	n := len(vecs)
	if n == 0 {
		return vecs
	}
	d := len(vecs[0])
	k = min(k, n, d)
	if k <= 0 || k >= d {
		return vecs
	}

	flat := make([]float64, 0, n*d)
	for _, v := range vecs {
		flat = append(flat, v...)
	}
	x := mat.NewDense(n, d, flat)

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return vecs
	}
	var basis mat.Dense
	pc.VectorsTo(&basis)

	var proj mat.Dense
	proj.Mul(x, basis.Slice(0, d, 0, k))

	out := make([][]float64, n)
	for i := range out {
		out[i] = mat.Row(nil, i, &proj)
	}
	return out
}
