package spikesort

import (
	"math"
	"sort"
	"testing"
)

// relabelFixture builds an energy matrix over four blobs arranged on a line
// so the chain order is non-trivial, plus per-cluster sentinel centroids.
func relabelFixture(t *testing.T) (*EnergyMatrix, [][]float64) {
	t.Helper()
	centers := [][]float64{{0, 0}, {4, 0}, {20, 0}, {23, 0}}
	features, source := gaussianBlobs(centers, 12, 0.8, 59)
	labels := make([]int, len(source))
	for i, s := range source {
		labels[i] = s + 1
	}
	m, err := NewEnergyMatrix(features, labels, 2, 2)
	if err != nil {
		t.Fatalf("NewEnergyMatrix: %v", err)
	}
	centroids := make([][]float64, len(centers))
	for j := range centroids {
		centroids[j] = []float64{float64(j + 1)}
	}
	return m, centroids
}

// Relabeling is a pure permutation: every ID appears once and the multiset
// of normalized energies is unchanged.
func TestRelabelIsPermutation(t *testing.T) {
	m, centroids := relabelFixture(t)

	before := normalizedMultiset(t, m)
	perm, err := m.Relabel(centroids)
	if err != nil {
		t.Fatalf("Relabel: %v", err)
	}
	after := normalizedMultiset(t, m)

	if len(perm) != m.K() {
		t.Fatalf("perm length: got %d, want %d", len(perm), m.K())
	}
	seen := make([]bool, m.K())
	for old, nu := range perm {
		if nu < 1 || nu > m.K() {
			t.Fatalf("perm[%d] = %d outside 1..%d", old, nu, m.K())
		}
		if seen[nu-1] {
			t.Fatalf("new ID %d assigned twice", nu)
		}
		seen[nu-1] = true
	}

	if len(before) != len(after) {
		t.Fatalf("energy multiset size changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if math.Abs(before[i]-after[i]) > 1e-12 {
			t.Errorf("energy multiset changed at %d: %v -> %v", i, before[i], after[i])
		}
	}
}

func normalizedMultiset(t *testing.T, m *EnergyMatrix) []float64 {
	t.Helper()
	var out []float64
	for a := 1; a <= m.K(); a++ {
		for b := a; b <= m.K(); b++ {
			v, err := m.Normalized(a, b)
			if err != nil {
				t.Fatalf("Normalized(%d,%d): %v", a, b, err)
			}
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

// The chain starts at the globally strongest pair and visits every cluster
// once; sizes and centroids are permuted consistently with the matrix.
func TestRelabelChainOrder(t *testing.T) {
	m, centroids := relabelFixture(t)

	// Locate the strongest pair before relabeling.
	bestA, bestB, bestV := 0, 0, math.Inf(-1)
	for a := 1; a <= m.K(); a++ {
		for b := a + 1; b <= m.K(); b++ {
			v, err := m.ConnectionStrength(a, b)
			if err != nil {
				t.Fatalf("ConnectionStrength(%d,%d): %v", a, b, err)
			}
			if v > bestV {
				bestA, bestB, bestV = a, b, v
			}
		}
	}
	sizesBefore := m.Sizes()

	perm, err := m.Relabel(centroids)
	if err != nil {
		t.Fatalf("Relabel: %v", err)
	}

	if perm[bestA-1] != 1 || perm[bestB-1] != 2 {
		t.Errorf("strongest pair (%d,%d) should map to (1,2), got (%d,%d)",
			bestA, bestB, perm[bestA-1], perm[bestB-1])
	}

	sizesAfter := m.Sizes()
	for old, nu := range perm {
		if sizesAfter[nu-1] != sizesBefore[old] {
			t.Errorf("size of old cluster %d not carried to new ID %d: %d vs %d",
				old+1, nu, sizesBefore[old], sizesAfter[nu-1])
		}
		// Sentinel centroids were old-ID valued, so the permuted slot must
		// hold its old cluster number.
		if centroids[nu-1][0] != float64(old+1) {
			t.Errorf("centroid of old cluster %d not at new slot %d: got %v",
				old+1, nu, centroids[nu-1][0])
		}
	}
}

// Relabeling the same matrix twice from identical state yields the same
// permutation: the tie-breaks are deterministic.
func TestRelabelDeterministic(t *testing.T) {
	m1, c1 := relabelFixture(t)
	m2, c2 := relabelFixture(t)

	p1, err := m1.Relabel(c1)
	if err != nil {
		t.Fatalf("Relabel: %v", err)
	}
	p2, err := m2.Relabel(c2)
	if err != nil {
		t.Fatalf("Relabel (second): %v", err)
	}
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Fatalf("permutation differs at %d: %d vs %d", i, p1[i], p2[i])
		}
	}
}

// After relabeling, consecutive IDs within the chain correspond to the
// strongest remaining neighbor of the previous cluster, so the two tight
// blob pairs in the fixture end up adjacent.
func TestRelabelAdjacency(t *testing.T) {
	m, centroids := relabelFixture(t)
	perm, err := m.Relabel(centroids)
	if err != nil {
		t.Fatalf("Relabel: %v", err)
	}

	// Old clusters 1,2 (centers 4 apart) and 3,4 (3 apart) are the two
	// similar pairs; each pair must receive consecutive new IDs.
	if d := perm[0] - perm[1]; d != 1 && d != -1 {
		t.Errorf("old clusters 1 and 2 not adjacent: new IDs %d, %d", perm[0], perm[1])
	}
	if d := perm[2] - perm[3]; d != 1 && d != -1 {
		t.Errorf("old clusters 3 and 4 not adjacent: new IDs %d, %d", perm[2], perm[3])
	}
}

func TestRelabelSingleCluster(t *testing.T) {
	features := randomFeatures(6, 2, 67)
	m, err := NewEnergyMatrix(features, blockLabels(6), 1, 1)
	if err != nil {
		t.Fatalf("NewEnergyMatrix: %v", err)
	}
	perm, err := m.Relabel(nil)
	if err != nil {
		t.Fatalf("Relabel: %v", err)
	}
	if len(perm) != 1 || perm[0] != 1 {
		t.Errorf("single cluster perm: got %v, want [1]", perm)
	}
}
