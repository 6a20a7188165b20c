package spikesort

import (
	"math"
	"sync"
)

// AssignNearest assigns each vector in data (flat row-major, n rows of dims
// columns) to its nearest centroid (flat row-major, k rows) by squared
// Euclidean distance, expanded as |x|^2 + |c|^2 - 2*x.c. assign[i] receives
// the centroid index and dist2[i] the squared distance, clamped at zero
// against rounding below it.
func AssignNearest(data []float64, n, dims int, centroids []float64, k int, assign []int, dist2 []float64) {
	cNorms := centroidNorms(centroids, k, dims)
	assignRange(data, dims, centroids, k, cNorms, assign, dist2, 0, n)
}

// AssignNearestParallel is AssignNearest with rows split across numWorkers
// goroutines. Each worker owns a contiguous row range, so writes need no
// synchronization. Falls back to AssignNearest when numWorkers <= 1.
//
// The result is bitwise identical to AssignNearest.
func AssignNearestParallel(data []float64, n, dims int, centroids []float64, k int, assign []int, dist2 []float64, numWorkers int) {
	if numWorkers <= 1 || n <= 1 {
		AssignNearest(data, n, dims, centroids, k, assign, dist2)
		return
	}

	cNorms := centroidNorms(centroids, k, dims)

	var wg sync.WaitGroup
	rowsPerWorker := (n + numWorkers - 1) / numWorkers
	for w := 0; w < numWorkers; w++ {
		start := w * rowsPerWorker
		end := min(start+rowsPerWorker, n)
		if start >= n {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			assignRange(data, dims, centroids, k, cNorms, assign, dist2, start, end)
		}(start, end)
	}
	wg.Wait()
}

func centroidNorms(centroids []float64, k, dims int) []float64 {
	norms := make([]float64, k)
	for j := 0; j < k; j++ {
		var sum float64
		for _, v := range centroids[j*dims : (j+1)*dims] {
			sum += v * v
		}
		norms[j] = sum
	}
	return norms
}

func assignRange(data []float64, dims int, centroids []float64, k int, cNorms []float64, assign []int, dist2 []float64, start, end int) {
	for i := start; i < end; i++ {
		x := data[i*dims : (i+1)*dims]
		var xNorm float64
		for _, v := range x {
			xNorm += v * v
		}
		best, bestD := 0, math.Inf(1)
		for j := 0; j < k; j++ {
			c := centroids[j*dims : (j+1)*dims]
			var dot float64
			for d := 0; d < dims; d++ {
				dot += x[d] * c[d]
			}
			d := xNorm + cNorms[j] - 2*dot
			if d < bestD {
				best, bestD = j, d
			}
		}
		assign[i] = best
		dist2[i] = max(bestD, 0)
	}
}

// MeanPairwiseDistance returns the mean Euclidean distance over all i < j
// pairs of the n vectors in data (flat row-major). Returns 0 for n < 2.
func MeanPairwiseDistance(data []float64, n, dims int) float64 {
	return meanPairwiseDistance(data, n, dims, 1)
}

// MeanPairwiseDistanceParallel is MeanPairwiseDistance with source rows
// split across numWorkers goroutines, each accumulating a partial sum.
func MeanPairwiseDistanceParallel(data []float64, n, dims, numWorkers int) float64 {
	return meanPairwiseDistance(data, n, dims, numWorkers)
}

func meanPairwiseDistance(data []float64, n, dims, numWorkers int) float64 {
	if n < 2 {
		return 0
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	sums := make([]float64, numWorkers)
	var wg sync.WaitGroup
	rowsPerWorker := (n + numWorkers - 1) / numWorkers
	for w := 0; w < numWorkers; w++ {
		start := w * rowsPerWorker
		end := min(start+rowsPerWorker, n)
		if start >= n {
			break
		}
		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			var sum float64
			for i := start; i < end; i++ {
				xi := data[i*dims : (i+1)*dims]
				for j := i + 1; j < n; j++ {
					xj := data[j*dims : (j+1)*dims]
					var sq float64
					for d := 0; d < dims; d++ {
						diff := xi[d] - xj[d]
						sq += diff * diff
					}
					sum += math.Sqrt(sq)
				}
			}
			sums[w] = sum
		}(w, start, end)
	}
	wg.Wait()

	var total float64
	for _, s := range sums {
		total += s
	}
	return total / float64(n*(n-1)/2)
}
