package spikesort

import "gonum.org/v1/gonum/mat"

// Scatter is the covariance decomposition of a clustered feature set:
// within-cluster W, between-cluster B, and total T, each normalized by the
// number of vectors so that T = W + B holds as covariances.
type Scatter struct {
	W *mat.SymDense
	B *mat.SymDense
	T *mat.SymDense
}

// ComputeScatter decomposes the scatter of features under the given dense
// 1..K labels and per-cluster centroids. labels[i] assigns features[i] to
// centroids[labels[i]-1].
func ComputeScatter(features [][]float64, labels []int, centroids [][]float64) Scatter {
	n := len(features)
	dims := len(features[0])
	k := len(centroids)

	mean := make([]float64, dims)
	for _, x := range features {
		for d, v := range x {
			mean[d] += v
		}
	}
	for d := range mean {
		mean[d] /= float64(n)
	}

	w := mat.NewSymDense(dims, nil)
	b := mat.NewSymDense(dims, nil)
	diff := make([]float64, dims)
	vec := mat.NewVecDense(dims, diff)

	for i, x := range features {
		c := centroids[labels[i]-1]
		for d := range diff {
			diff[d] = x[d] - c[d]
		}
		w.SymRankOne(w, 1/float64(n), vec)
	}

	sizes := make([]int, k)
	for _, l := range labels {
		sizes[l-1]++
	}
	for j, c := range centroids {
		for d := range diff {
			diff[d] = c[d] - mean[d]
		}
		b.SymRankOne(b, float64(sizes[j])/float64(n), vec)
	}

	t := mat.NewSymDense(dims, nil)
	t.AddSym(w, b)
	return Scatter{W: w, B: b, T: t}
}
