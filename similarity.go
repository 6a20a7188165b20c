package spikesort

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// SigmaFromScatter derives the interface-energy length scale from the
// within-cluster covariance: sqrt(trace(W)) / 10.
func SigmaFromScatter(w *mat.SymDense) float64 {
	return math.Sqrt(mat.Trace(w)) / 10
}

// EnergyMatrix holds the pairwise interface energies of a set of
// miniclusters: energy(a,b) is the sum of exp(-|x-y|/sigma) over all pairs
// with x in a, y in b. The diagonal sums over unordered within-cluster
// pairs and is undefined for clusters of size 1, which therefore cannot
// enter a matrix.
//
// Only the upper triangle (including the diagonal) is stored. Cluster IDs
// are 1-based, matching Clustering.Labels. Merge folds two clusters into
// one with O(K) additions instead of re-scanning the raw vectors, so an
// interactive merge loop stays cheap.
type EnergyMatrix struct {
	k     int
	sigma float64
	sizes []int
	e     []float64 // upper triangle incl. diagonal, row-major
}

// NewEnergyMatrix computes the interface-energy matrix of the feature
// vectors grouped by dense 1..K labels. sigma is the exponential decay
// scale, typically SigmaFromScatter of the clustering's W. All-pairs work
// is split across workers goroutines (0 or 1 means sequential).
//
// Returns ErrMissingInput for empty input and ErrSingletonCluster (wrapped,
// naming the cluster) if any cluster has fewer than 2 members.
func NewEnergyMatrix(features [][]float64, labels []int, sigma float64, workers int) (*EnergyMatrix, error) {
	n := len(features)
	if n == 0 {
		return nil, ErrMissingInput
	}
	if len(labels) != n {
		return nil, &ConfigError{Field: "labels", Reason: fmt.Sprintf("have %d labels for %d vectors", len(labels), n)}
	}
	if sigma <= 0 || math.IsNaN(sigma) {
		return nil, &ConfigError{Field: "sigma", Reason: fmt.Sprintf("must be > 0, got %g", sigma)}
	}

	k := 0
	for i, l := range labels {
		if l < 1 {
			return nil, &ConfigError{Field: "labels", Reason: fmt.Sprintf("label %d of vector %d is not positive", l, i)}
		}
		if l > k {
			k = l
		}
	}
	members := make([][]int, k)
	for i, l := range labels {
		members[l-1] = append(members[l-1], i)
	}
	sizes := make([]int, k)
	for j, m := range members {
		sizes[j] = len(m)
		if len(m) < 2 {
			return nil, fmt.Errorf("spikesort: cluster %d has %d members: %w", j+1, len(m), ErrSingletonCluster)
		}
	}

	m := &EnergyMatrix{
		k:     k,
		sigma: sigma,
		sizes: sizes,
		e:     make([]float64, k*(k+1)/2),
	}

	// One entry per unordered cluster pair; entries are independent, so
	// they are split across workers in contiguous chunks with no
	// synchronization on writes.
	type pair struct{ a, b int }
	pairs := make([]pair, 0, len(m.e))
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			pairs = append(pairs, pair{a, b})
		}
	}

	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	perWorker := (len(pairs) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * perWorker
		end := min(start+perWorker, len(pairs))
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for p := start; p < end; p++ {
				a, b := pairs[p].a, pairs[p].b
				m.e[m.index(a, b)] = pairEnergy(features, members[a], members[b], a == b, sigma)
			}
		}(start, end)
	}
	wg.Wait()

	return m, nil
}

// pairEnergy sums exp(-|x-y|/sigma) over member pairs. For a cluster
// against itself only unordered pairs count and self-pairs are excluded.
func pairEnergy(features [][]float64, ma, mb []int, same bool, sigma float64) float64 {
	var sum float64
	for i, ia := range ma {
		start := 0
		if same {
			start = i + 1
		}
		x := features[ia]
		for _, ib := range mb[start:] {
			y := features[ib]
			var sq float64
			for d := range x {
				diff := x[d] - y[d]
				sq += diff * diff
			}
			// Rounding can push a near-zero squared distance negative;
			// clamp before the sqrt so no NaN propagates.
			sum += math.Exp(-math.Sqrt(max(sq, 0)) / sigma)
		}
	}
	return sum
}

// index maps an unordered 0-based cluster pair to its flat upper-triangle
// position.
func (m *EnergyMatrix) index(a, b int) int {
	if a > b {
		a, b = b, a
	}
	return a*m.k - a*(a-1)/2 + (b - a)
}

// K returns the current number of clusters.
func (m *EnergyMatrix) K() int { return m.k }

// Sigma returns the exponential decay scale the matrix was built with.
func (m *EnergyMatrix) Sigma() float64 { return m.sigma }

// Sizes returns a copy of the per-cluster sizes, indexed by ID-1.
func (m *EnergyMatrix) Sizes() []int {
	out := make([]int, len(m.sizes))
	copy(out, m.sizes)
	return out
}

// checkID validates a 1-based cluster ID.
func (m *EnergyMatrix) checkID(id int) error {
	if id < 1 || id > m.k {
		return &ConfigError{Field: "cluster", Reason: fmt.Sprintf("id %d out of range 1..%d", id, m.k)}
	}
	return nil
}

// Energy returns the raw interface energy between clusters a and b
// (1-based). With a == b it is the within-cluster energy.
func (m *EnergyMatrix) Energy(a, b int) (float64, error) {
	if err := m.checkID(a); err != nil {
		return 0, err
	}
	if err := m.checkID(b); err != nil {
		return 0, err
	}
	return m.e[m.index(a-1, b-1)], nil
}

// Merge folds cluster b into cluster a using the additive merge law:
//
//	energy(ab,ab) = energy(a,a) + energy(b,b) + energy(a,b)
//	energy(ab,c)  = energy(a,c) + energy(b,c)
//
// No raw vectors are revisited. After the merge, b is removed and cluster
// IDs above b shift down by one.
func (m *EnergyMatrix) Merge(a, b int) error {
	if err := m.checkID(a); err != nil {
		return err
	}
	if err := m.checkID(b); err != nil {
		return err
	}
	if a == b {
		return &ConfigError{Field: "cluster", Reason: fmt.Sprintf("cannot merge cluster %d with itself", a)}
	}
	ai, bi := a-1, b-1

	m.e[m.index(ai, ai)] += m.e[m.index(bi, bi)] + m.e[m.index(ai, bi)]
	for c := 0; c < m.k; c++ {
		if c == ai || c == bi {
			continue
		}
		m.e[m.index(ai, c)] += m.e[m.index(bi, c)]
	}
	m.sizes[ai] += m.sizes[bi]

	// Compact out row/column bi.
	nk := m.k - 1
	ne := make([]float64, nk*(nk+1)/2)
	oldOf := func(x int) int {
		if x >= bi {
			return x + 1
		}
		return x
	}
	for x := 0; x < nk; x++ {
		for y := x; y < nk; y++ {
			ne[x*nk-x*(x-1)/2+(y-x)] = m.e[m.index(oldOf(x), oldOf(y))]
		}
	}
	m.sizes = append(m.sizes[:bi], m.sizes[bi+1:]...)
	m.e = ne
	m.k = nk
	return nil
}

// Normalized returns the per-pair normalized energy: the raw energy divided
// by the number of contributing pairs, |a||b| off the diagonal and
// |a|(|a|-1)/2 on it. The matrix is not modified.
func (m *EnergyMatrix) Normalized(a, b int) (float64, error) {
	raw, err := m.Energy(a, b)
	if err != nil {
		return 0, err
	}
	if a == b {
		size := m.sizes[a-1]
		if size < 2 {
			return 0, fmt.Errorf("spikesort: cluster %d has %d members: %w", a, size, ErrSingletonCluster)
		}
		return raw / float64(size*(size-1)/2), nil
	}
	return raw / float64(m.sizes[a-1]*m.sizes[b-1]), nil
}

// ConnectionStrength returns the normalized energy between a and b scaled
// by the mean of their self-similarities:
//
//	cs(a,b) = 2*norm(a,b) / (norm(a,a) + norm(b,b))
//
// The diagonal is defined as 0.
func (m *EnergyMatrix) ConnectionStrength(a, b int) (float64, error) {
	if a == b {
		if err := m.checkID(a); err != nil {
			return 0, err
		}
		return 0, nil
	}
	ab, err := m.Normalized(a, b)
	if err != nil {
		return 0, err
	}
	aa, err := m.Normalized(a, a)
	if err != nil {
		return 0, err
	}
	bb, err := m.Normalized(b, b)
	if err != nil {
		return 0, err
	}
	return 2 * ab / (aa + bb), nil
}
