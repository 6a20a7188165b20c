package spikesort

import (
	"fmt"
	"runtime"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Config bundles the per-stage configurations for a full Sort run.
// A non-nil Logger is propagated to stages that have none of their own.
type Config struct {
	Detection  DetectionConfig
	Clustering ClusteringConfig
	Logger     *Logger
}

// DefaultConfig returns a Config with the per-stage defaults.
func DefaultConfig() Config {
	return Config{
		Detection:  DefaultDetectionConfig(),
		Clustering: DefaultClusteringConfig(),
	}
}

// Result contains the output of the full sorting pipeline.
type Result struct {
	// Events are the detected spikes, in trial order.
	Events []SpikeEvent

	// Features are the reduced feature vectors, one per event.
	Features [][]float64

	// Rank is the reduced dimensionality chosen by the reducer.
	Rank int

	// Labels assigns each event a dense minicluster ID in 1..K, in the
	// similarity chain order produced by relabeling.
	Labels []int

	// Centroids holds the minicluster feature-space means, indexed by
	// label-1, permuted consistently with Labels.
	Centroids [][]float64

	// Scatter is the W/B/T covariance decomposition of the features under
	// the final labels.
	Scatter Scatter

	// Energy is the minicluster interface-energy matrix, relabeled in
	// chain order. Downstream merge tooling can call Energy.Merge.
	Energy *EnergyMatrix

	// NoiseCovariance is the background noise covariance over randomly
	// sampled windows, on the same flattened-window layout as waveforms.
	NoiseCovariance *mat.SymDense
}

// Sort runs the full pipeline over the trials: threshold-crossing detection,
// dimensionality reduction, divisive k-means, and interface-energy
// aggregation with greedy relabeling. Each stage consumes the previous
// stage's complete output; a session with too few events to cluster returns
// an error wrapping ErrMissingInput.
func Sort(trials []Trial, cfg Config) (*Result, error) {
	log := cfg.Logger.orNoop()
	if cfg.Detection.Logger == nil {
		cfg.Detection.Logger = cfg.Logger
	}
	if cfg.Clustering.Logger == nil {
		cfg.Clustering.Logger = cfg.Logger
	}

	session, err := NewSession(cfg.Detection)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	events, err := session.Detect(trials)
	if err != nil {
		return nil, fmt.Errorf("spikesort: detection: %w", err)
	}
	log.Info("detection complete",
		"trials", len(trials), "events", len(events), "elapsed", time.Since(start))

	waveforms := make([][][]float64, len(events))
	for i, ev := range events {
		waveforms[i] = ev.Waveform
	}
	start = time.Now()
	reducer, err := NewReducer(waveforms)
	if err != nil {
		return nil, fmt.Errorf("spikesort: reduction: %w", err)
	}
	features := reducer.Features()
	log.Info("reduction complete",
		"events", len(events), "rank", reducer.Rank(), "elapsed", time.Since(start))

	start = time.Now()
	clustering, err := DivisiveKMeans(features, cfg.Clustering)
	if err != nil {
		return nil, fmt.Errorf("spikesort: clustering: %w", err)
	}
	log.Info("clustering complete",
		"k", clustering.K, "mse", clustering.MSE, "elapsed", time.Since(start))

	workers := cfg.Clustering.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	start = time.Now()
	energy, err := NewEnergyMatrix(features, clustering.Labels, SigmaFromScatter(clustering.Scatter.W), workers)
	if err != nil {
		return nil, fmt.Errorf("spikesort: similarity: %w", err)
	}
	perm, err := energy.Relabel(clustering.Centroids)
	if err != nil {
		return nil, fmt.Errorf("spikesort: relabeling: %w", err)
	}
	labels := make([]int, len(clustering.Labels))
	for i, l := range clustering.Labels {
		labels[i] = perm[l-1]
	}
	log.Info("similarity complete", "k", energy.K(), "elapsed", time.Since(start))

	noiseCov, err := session.NoiseCovariance()
	if err != nil {
		return nil, fmt.Errorf("spikesort: noise covariance: %w", err)
	}

	return &Result{
		Events:          events,
		Features:        features,
		Rank:            reducer.Rank(),
		Labels:          labels,
		Centroids:       clustering.Centroids,
		Scatter:         clustering.Scatter,
		Energy:          energy,
		NoiseCovariance: noiseCov,
	}, nil
}
