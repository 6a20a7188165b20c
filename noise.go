package spikesort

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// NoiseCovariance estimates the background noise covariance of the session
// by sampling NoiseWindows randomly placed, window-length snippets across
// all trials seen so far and computing the covariance of their flattened
// rows. The row layout matches flattened waveforms (sample-major, channel
// within sample), so the matrix is directly comparable to spike waveform
// statistics downstream.
//
// The sampler is seeded from DetectionConfig.Seed; the same session state
// always yields the same matrix.
func (s *Session) NoiseCovariance() (*mat.SymDense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.frozen || len(s.trials) == 0 {
		return nil, ErrMissingInput
	}

	window := s.samplesOf(s.cfg.WindowMS)
	if window < 1 {
		window = 1
	}

	// Only trials long enough to hold a full window can be sampled.
	var eligible []int
	for i, t := range s.trials {
		if t.Samples() >= window {
			eligible = append(eligible, i)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrMissingInput
	}

	dims := window * s.channels
	rng := rand.New(rand.NewSource(s.cfg.Seed))
	rows := mat.NewDense(s.cfg.NoiseWindows, dims, nil)
	for r := 0; r < s.cfg.NoiseWindows; r++ {
		t := s.trials[eligible[rng.Intn(len(eligible))]]
		start := rng.Intn(t.Samples() - window + 1)
		for w := 0; w < window; w++ {
			for c := 0; c < s.channels; c++ {
				rows.Set(r, w*s.channels+c, t.Data[start+w][c])
			}
		}
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, rows, nil)
	return &cov, nil
}
