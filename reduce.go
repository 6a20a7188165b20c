package spikesort

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// energyFraction is the cumulative squared-singular-value fraction a basis
// prefix must exceed to be selected as the reduced rank.
const energyFraction = 0.95

// Reducer holds a variance-ranked orthogonal basis over a fixed set of
// waveforms and projects flattened waveforms into the reduced space.
//
// The basis comes from a thin SVD of the event x (samples*channels) matrix.
// It is valid only for the waveform set it was fit on: when the set grows,
// build a new Reducer rather than reusing a stale basis.
type Reducer struct {
	basis    *mat.Dense // dims x full, right singular vectors as columns
	scores   *mat.Dense // n x full, U*S
	singvals []float64
	rank     int
	dims     int
	full     int
}

// NewReducer flattens waveforms (event x window-sample x channel) row-major
// and factorizes them. The reduced rank is the smallest prefix of components
// whose cumulative squared singular values exceed 95% of the total.
// Returns ErrMissingInput when no waveforms are given.
func NewReducer(waveforms [][][]float64) (*Reducer, error) {
	n := len(waveforms)
	if n == 0 {
		return nil, ErrMissingInput
	}
	if len(waveforms[0]) == 0 || len(waveforms[0][0]) == 0 {
		return nil, ErrMissingInput
	}
	dims := len(waveforms[0]) * len(waveforms[0][0])
	x := mat.NewDense(n, dims, nil)
	for i, wf := range waveforms {
		x.SetRow(i, FlattenWaveform(wf))
	}

	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return nil, fmt.Errorf("spikesort: SVD of %dx%d waveform matrix failed to converge", n, dims)
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)
	full := len(s)

	// Component scores are U scaled by the singular values.
	scores := mat.NewDense(n, full, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < full; j++ {
			scores.Set(i, j, u.At(i, j)*s[j])
		}
	}

	var total float64
	for _, sv := range s {
		total += sv * sv
	}
	rank := full
	var cum float64
	for j, sv := range s {
		cum += sv * sv
		if total == 0 || cum > energyFraction*total {
			rank = j + 1
			break
		}
	}

	return &Reducer{
		basis:    &v,
		scores:   scores,
		singvals: s,
		rank:     rank,
		dims:     dims,
		full:     full,
	}, nil
}

// Rank returns the selected reduced dimensionality.
func (r *Reducer) Rank() int { return r.rank }

// FullRank returns the number of available components, min(events, dims).
func (r *Reducer) FullRank() int { return r.full }

// SingularValues returns a copy of the singular values in descending order.
func (r *Reducer) SingularValues() []float64 {
	out := make([]float64, len(r.singvals))
	copy(out, r.singvals)
	return out
}

// Features returns the fitted waveforms' scores truncated to the reduced
// rank: one feature vector per event.
func (r *Reducer) Features() [][]float64 {
	n, _ := r.scores.Dims()
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, r.rank)
		for j := 0; j < r.rank; j++ {
			out[i][j] = r.scores.At(i, j)
		}
	}
	return out
}

// Project maps a flattened waveform onto the reduced basis.
func (r *Reducer) Project(flat []float64) []float64 {
	return r.ProjectTo(flat, r.rank)
}

// ProjectTo maps a flattened waveform onto the first k basis components.
func (r *Reducer) ProjectTo(flat []float64, k int) []float64 {
	if len(flat) != r.dims {
		panic(fmt.Sprintf("spikesort: waveform has %d samples, basis has %d", len(flat), r.dims))
	}
	if k > r.full {
		k = r.full
	}
	out := make([]float64, k)
	for j := 0; j < k; j++ {
		var dot float64
		for i := 0; i < r.dims; i++ {
			dot += flat[i] * r.basis.At(i, j)
		}
		out[j] = dot
	}
	return out
}

// Reconstruct maps component scores back to a flattened waveform using
// len(scores) basis components. With all FullRank components this inverts
// ProjectTo up to floating-point error.
func (r *Reducer) Reconstruct(scores []float64) []float64 {
	k := len(scores)
	if k > r.full {
		k = r.full
	}
	out := make([]float64, r.dims)
	for j := 0; j < k; j++ {
		f := scores[j]
		for i := 0; i < r.dims; i++ {
			out[i] += f * r.basis.At(i, j)
		}
	}
	return out
}

// FlattenWaveform lays out a window-sample x channel waveform row-major,
// matching the layout used by the Reducer and NoiseCovariance.
func FlattenWaveform(wf [][]float64) []float64 {
	if len(wf) == 0 {
		return nil
	}
	channels := len(wf[0])
	out := make([]float64, 0, len(wf)*channels)
	for _, row := range wf {
		out = append(out, row...)
	}
	return out
}
