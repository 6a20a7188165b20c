package spikesort

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// maxLloydIter bounds E/M iterations per division step in case neither
// convergence criterion triggers.
const maxLloydIter = 100

// ClusteringConfig controls divisive k-means clustering.
// Start with [DefaultClusteringConfig] and override the fields you need.
type ClusteringConfig struct {
	// Divisions overrides the number of centroid-doubling steps, giving
	// K <= 2^Divisions clusters. 0 derives it from TargetClusterSize:
	// round(log2(N/TargetClusterSize)) clamped to [4, 7].
	Divisions int

	// Reps is the number of independent runs; the run with the lowest
	// final mean squared assignment distance wins. Must be >= 1.
	// Default: 1.
	Reps int

	// ReassignTol stops iteration once the number of vectors that changed
	// cluster since the previous iteration is <= this value. Applied
	// strictly only on the final division step; earlier steps relax it to
	// max(ReassignTol, N/1000) for speed. Must be >= 0. Default: 0.
	ReassignTol int

	// MSETol stops iteration once the fractional drop in mean squared
	// assignment distance is <= this value. Must be >= 0. Default: 1e-4.
	MSETol float64

	// TargetClusterSize is the intended average minicluster size used to
	// derive Divisions. Must be >= 1. Default: 100.
	TargetClusterSize int

	// Seed drives centroid jitter. Rep r uses Seed+r, so results are
	// reproducible regardless of how the reps are scheduled. Default: 1.
	Seed int64

	// Workers controls goroutines for the assignment step and pairwise
	// distance scan. 0 means runtime.NumCPU().
	Workers int

	// Logger receives per-division progress records at Debug level.
	// nil disables logging.
	Logger *Logger
}

// DefaultClusteringConfig returns a ClusteringConfig with reasonable defaults.
func DefaultClusteringConfig() ClusteringConfig {
	return ClusteringConfig{
		Reps:              1,
		MSETol:            1e-4,
		TargetClusterSize: 100,
		Seed:              1,
	}
}

// applyClusteringDefaults fills in zero-valued config fields with their defaults.
func applyClusteringDefaults(cfg *ClusteringConfig) {
	if cfg.Reps == 0 {
		cfg.Reps = 1
	}
	if cfg.MSETol == 0 {
		cfg.MSETol = 1e-4
	}
	if cfg.TargetClusterSize == 0 {
		cfg.TargetClusterSize = 100
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
}

// validateClusteringConfig checks cfg and returns a descriptive error if a
// field is invalid.
func validateClusteringConfig(cfg *ClusteringConfig) error {
	if cfg.Divisions < 0 || cfg.Divisions > 20 {
		return &ConfigError{Field: "Divisions", Reason: fmt.Sprintf("must be in [0, 20], got %d", cfg.Divisions)}
	}
	if cfg.Reps < 1 {
		return &ConfigError{Field: "Reps", Reason: fmt.Sprintf("must be >= 1, got %d", cfg.Reps)}
	}
	if cfg.ReassignTol < 0 {
		return &ConfigError{Field: "ReassignTol", Reason: fmt.Sprintf("must be >= 0, got %d", cfg.ReassignTol)}
	}
	if cfg.MSETol < 0 {
		return &ConfigError{Field: "MSETol", Reason: fmt.Sprintf("must be >= 0, got %g", cfg.MSETol)}
	}
	if cfg.TargetClusterSize < 1 {
		return &ConfigError{Field: "TargetClusterSize", Reason: fmt.Sprintf("must be >= 1, got %d", cfg.TargetClusterSize)}
	}
	return nil
}

// Clustering is the output of DivisiveKMeans.
type Clustering struct {
	// Labels assigns each feature vector a dense cluster ID in 1..K,
	// numbered by descending cluster size.
	Labels []int

	// Centroids holds the cluster means, indexed by label-1.
	Centroids [][]float64

	// K is the number of clusters. No cluster has size 1.
	K int

	// MSE is the final mean squared assignment distance of the winning run.
	MSE float64

	// Scatter is the covariance decomposition T = W + B of the features
	// under the final labels.
	Scatter Scatter
}

// DivisiveKMeans clusters feature vectors into miniclusters by iterative
// centroid doubling: starting from the global mean, every division step
// duplicates each centroid, perturbs the duplicates with small Gaussian
// jitter, and runs Lloyd iterations to convergence. Size-1 clusters are
// dissolved into their next-best centroid, so every returned cluster has at
// least 2 members (when N >= 2).
//
// Returns ErrMissingInput when features is empty.
func DivisiveKMeans(features [][]float64, cfg ClusteringConfig) (*Clustering, error) {
	applyClusteringDefaults(&cfg)
	if err := validateClusteringConfig(&cfg); err != nil {
		return nil, err
	}
	n := len(features)
	if n == 0 {
		return nil, ErrMissingInput
	}
	dims := len(features[0])
	data := make([]float64, n*dims)
	for i, x := range features {
		if len(x) != dims {
			return nil, &ConfigError{Field: "features", Reason: fmt.Sprintf("vector %d has %d dims, want %d", i, len(x), dims)}
		}
		copy(data[i*dims:], x)
	}

	divisions := cfg.Divisions
	if divisions == 0 {
		divisions = autoDivisions(n, cfg.TargetClusterSize)
	}

	// Jitter scale: large enough to break the symmetry of duplicated
	// centroids, small enough to keep duplicates inside their parent's
	// neighborhood.
	jitter := MeanPairwiseDistanceParallel(data, n, dims, cfg.Workers) / 100 / float64(dims)

	runs := make([]divisiveRun, cfg.Reps)
	var g errgroup.Group
	for rep := 0; rep < cfg.Reps; rep++ {
		rep := rep
		g.Go(func() error {
			rng := rand.New(rand.NewSource(cfg.Seed + int64(rep)))
			runs[rep] = runDivisive(data, n, dims, divisions, jitter, rng, &cfg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := 0
	for rep := 1; rep < cfg.Reps; rep++ {
		if runs[rep].mse < runs[best].mse {
			best = rep
		}
	}
	win := runs[best]

	if l := cfg.Logger; l != nil {
		l.Debug("divisive k-means complete",
			"n", n, "divisions", divisions, "k", win.k,
			"reps", cfg.Reps, "mse", win.mse,
		)
	}

	labels, centroids := renumberBySize(win.assign, win.centroids, win.k, dims)
	return &Clustering{
		Labels:    labels,
		Centroids: centroids,
		K:         len(centroids),
		MSE:       win.mse,
		Scatter:   ComputeScatter(features, labels, centroids),
	}, nil
}

// autoDivisions derives the doubling depth from the target minicluster size.
func autoDivisions(n, target int) int {
	d := int(math.Round(math.Log2(float64(n) / float64(target))))
	return min(max(d, 4), 7)
}

type divisiveRun struct {
	assign    []int // 0-based cluster per vector
	centroids []float64
	k         int
	mse       float64
}

// runDivisive performs one independent divisive clustering run.
func runDivisive(data []float64, n, dims, divisions int, jitter float64, rng *rand.Rand, cfg *ClusteringConfig) divisiveRun {
	// Start with a single centroid at the global mean.
	centroids := make([]float64, dims)
	for i := 0; i < n; i++ {
		floats.Add(centroids, data[i*dims:(i+1)*dims])
	}
	floats.Scale(1/float64(n), centroids)
	k := 1
	assign := make([]int, n)
	var mse float64

	for step := 1; step <= divisions; step++ {
		centroids, k = doubleCentroids(centroids, k, dims, jitter, rng)

		// Earlier division steps get refined further anyway, so their
		// reassignment threshold is relaxed; only the final step applies
		// the configured tolerance strictly.
		tol := cfg.ReassignTol
		if step < divisions {
			tol = max(tol, n/1000)
		}
		centroids, k, mse = lloyd(data, n, dims, centroids, k, assign, tol, cfg.MSETol, cfg.Workers)
	}

	return divisiveRun{assign: assign, centroids: centroids, k: k, mse: mse}
}

// doubleCentroids appends a jittered duplicate of every centroid. Originals
// keep their indices so the previous assignment stays a valid baseline for
// the reassignment count.
func doubleCentroids(centroids []float64, k, dims int, jitter float64, rng *rand.Rand) ([]float64, int) {
	out := make([]float64, 2*k*dims)
	copy(out, centroids)
	for j := 0; j < k; j++ {
		for d := 0; d < dims; d++ {
			out[(k+j)*dims+d] = centroids[j*dims+d] + rng.NormFloat64()*jitter
		}
	}
	return out, 2 * k
}

// lloyd iterates E/M steps until convergence: an E-step assignment, singleton
// elimination, then an M-step centroid update that drops emptied centroids.
// Iteration stops when either the number of reassigned vectors is <=
// reassignTol or the fractional MSE improvement is <= mseTol. assign is
// updated in place; the (possibly shrunken) centroids and the final mean
// squared assignment distance are returned.
func lloyd(data []float64, n, dims int, centroids []float64, k int, assign []int, reassignTol int, mseTol float64, workers int) ([]float64, int, float64) {
	next := make([]int, n)
	dist2 := make([]float64, n)
	prevMSE := math.Inf(1)
	var mse float64

	for iter := 0; iter < maxLloydIter; iter++ {
		AssignNearestParallel(data, n, dims, centroids, k, next, dist2, workers)
		moved := 0
		for i := range assign {
			if assign[i] != next[i] {
				moved++
			}
		}
		copy(assign, next)

		centroids, k = eliminateSingletons(data, n, dims, assign, dist2, centroids, k)
		centroids, k = recomputeCentroids(data, n, dims, assign, centroids, k)

		mse = floats.Sum(dist2) / float64(n)

		if moved <= reassignTol {
			break
		}
		if prevMSE == 0 {
			break
		}
		if !math.IsInf(prevMSE, 1) && (prevMSE-mse)/prevMSE <= mseTol {
			break
		}
		prevMSE = mse
	}
	return centroids, k, mse
}

// eliminateSingletons dissolves size-1 clusters: the lone member moves to
// its next-best centroid and the emptied centroid is removed. Repeats until
// no singleton remains, since a reassignment can create a new one. A single
// remaining cluster is never dissolved.
func eliminateSingletons(data []float64, n, dims int, assign []int, dist2 []float64, centroids []float64, k int) ([]float64, int) {
	for k > 1 {
		counts := make([]int, k)
		for _, a := range assign {
			counts[a]++
		}
		singleton := -1
		for j, c := range counts {
			if c == 1 {
				singleton = j
				break
			}
		}
		if singleton < 0 {
			break
		}

		member := -1
		for i, a := range assign {
			if a == singleton {
				member = i
				break
			}
		}

		x := data[member*dims : (member+1)*dims]
		best, bestD := -1, math.Inf(1)
		for j := 0; j < k; j++ {
			if j == singleton {
				continue
			}
			c := centroids[j*dims : (j+1)*dims]
			var sq float64
			for d := 0; d < dims; d++ {
				diff := x[d] - c[d]
				sq += diff * diff
			}
			if sq < bestD {
				best, bestD = j, sq
			}
		}
		assign[member] = best
		dist2[member] = bestD

		centroids = append(centroids[:singleton*dims], centroids[(singleton+1)*dims:]...)
		k--
		for i := range assign {
			if assign[i] > singleton {
				assign[i]--
			}
		}
	}
	return centroids, k
}

// recomputeCentroids replaces each centroid with the mean of its members and
// compacts away centroids that ended up with no members, remapping assign.
func recomputeCentroids(data []float64, n, dims int, assign []int, centroids []float64, k int) ([]float64, int) {
	sums := make([]float64, k*dims)
	counts := make([]int, k)
	for i, a := range assign {
		counts[a]++
		for d := 0; d < dims; d++ {
			sums[a*dims+d] += data[i*dims+d]
		}
	}

	remap := make([]int, k)
	kept := 0
	for j := 0; j < k; j++ {
		if counts[j] == 0 {
			remap[j] = -1
			continue
		}
		for d := 0; d < dims; d++ {
			centroids[kept*dims+d] = sums[j*dims+d] / float64(counts[j])
		}
		remap[j] = kept
		kept++
	}
	if kept != k {
		for i := range assign {
			assign[i] = remap[assign[i]]
		}
	}
	return centroids[:kept*dims], kept
}

// renumberBySize converts 0-based assignments into dense 1..K labels ordered
// by descending cluster size (ties by original index) and reorders the
// centroids to match.
func renumberBySize(assign []int, centroids []float64, k, dims int) ([]int, [][]float64) {
	sizes := make([]int, k)
	for _, a := range assign {
		sizes[a]++
	}
	order := make([]int, k)
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sizes[order[a]] > sizes[order[b]]
	})

	newLabel := make([]int, k)
	out := make([][]float64, k)
	for pos, j := range order {
		newLabel[j] = pos + 1
		out[pos] = make([]float64, dims)
		copy(out[pos], centroids[j*dims:(j+1)*dims])
	}

	labels := make([]int, len(assign))
	for i, a := range assign {
		labels[i] = newLabel[a]
	}
	return labels, out
}
