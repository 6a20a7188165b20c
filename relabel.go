package spikesort

import "math"

// Relabel renumbers the clusters by greedy chaining over connection
// strengths: starting from the globally strongest pair, the chain repeatedly
// extends to the strongest remaining neighbor of the last-visited cluster,
// so similar clusters end up with adjacent IDs. Each cluster is visited
// exactly once, tracked with an explicit visited set rather than sentinel
// matrix entries.
//
// At each step the best unvisited entry in the last cluster's row and the
// best in its column are both considered and the larger wins; on an exact
// tie the row candidate wins, and within a scan the lowest cluster index
// wins. The stored matrix is symmetric, so the row/column distinction only
// matters as a documented, deterministic tie-break.
//
// The energy matrix and its sizes are permuted in place. If centroids is
// non-nil it must have length K and is permuted the same way. The returned
// slice maps old IDs to new: perm[old-1] is the new 1-based ID.
func (m *EnergyMatrix) Relabel(centroids [][]float64) ([]int, error) {
	if m.k == 0 {
		return nil, ErrMissingInput
	}
	if centroids != nil && len(centroids) != m.k {
		return nil, &ConfigError{Field: "centroids", Reason: "length does not match cluster count"}
	}
	if m.k == 1 {
		return []int{1}, nil
	}

	cs, err := m.strengths()
	if err != nil {
		return nil, err
	}

	order := make([]int, 0, m.k)
	visited := make([]bool, m.k)
	a, b := strongestPair(cs, m.k)
	order = append(order, a, b)
	visited[a], visited[b] = true, true
	last := b

	for len(order) < m.k {
		rowBest, rowVal := bestUnvisited(cs, m.k, last, visited, true)
		colBest, colVal := bestUnvisited(cs, m.k, last, visited, false)
		next := rowBest
		if colVal > rowVal {
			next = colBest
		}
		order = append(order, next)
		visited[next] = true
		last = next
	}

	m.permute(order, centroids)

	perm := make([]int, m.k)
	for pos, old := range order {
		perm[old] = pos + 1
	}
	return perm, nil
}

// strengths materializes the full connection-strength matrix, row-major.
func (m *EnergyMatrix) strengths() ([]float64, error) {
	cs := make([]float64, m.k*m.k)
	for a := 0; a < m.k; a++ {
		for b := a + 1; b < m.k; b++ {
			v, err := m.ConnectionStrength(a+1, b+1)
			if err != nil {
				return nil, err
			}
			cs[a*m.k+b] = v
			cs[b*m.k+a] = v
		}
	}
	return cs, nil
}

// strongestPair returns the 0-based pair (a < b) with the highest connection
// strength; the first such pair in row-major scan order wins ties.
func strongestPair(cs []float64, k int) (int, int) {
	bestA, bestB, bestV := 0, 1, cs[1]
	for a := 0; a < k; a++ {
		for b := a + 1; b < k; b++ {
			if v := cs[a*k+b]; v > bestV {
				bestA, bestB, bestV = a, b, v
			}
		}
	}
	return bestA, bestB
}

// bestUnvisited scans the row (or column) of cluster last for the strongest
// unvisited cluster. The lowest index wins ties. Returns index -1 and -Inf
// strength only if every cluster is visited, which the caller never allows.
func bestUnvisited(cs []float64, k, last int, visited []bool, row bool) (int, float64) {
	best, bestV := -1, math.Inf(-1)
	for c := 0; c < k; c++ {
		if visited[c] {
			continue
		}
		var v float64
		if row {
			v = cs[last*k+c]
		} else {
			v = cs[c*k+last]
		}
		if v > bestV {
			best, bestV = c, v
		}
	}
	return best, bestV
}

// permute reorders the stored energies, sizes, and optional centroids so
// that old cluster order[pos] becomes new cluster pos.
func (m *EnergyMatrix) permute(order []int, centroids [][]float64) {
	ne := make([]float64, len(m.e))
	for x := 0; x < m.k; x++ {
		for y := x; y < m.k; y++ {
			ne[m.index(x, y)] = m.e[m.index(order[x], order[y])]
		}
	}
	m.e = ne

	sizes := make([]int, m.k)
	for pos, old := range order {
		sizes[pos] = m.sizes[old]
	}
	m.sizes = sizes

	if centroids != nil {
		tmp := make([][]float64, m.k)
		for pos, old := range order {
			tmp[pos] = centroids[old]
		}
		copy(centroids, tmp)
	}
}
