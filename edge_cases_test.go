package spikesort

import (
	"errors"
	"testing"
)

func TestEdgeCase_SortNoTrials(t *testing.T) {
	_, err := Sort(nil, DefaultConfig())
	if err == nil {
		t.Fatal("expected error for empty input, got nil")
	}
	if !errors.Is(err, ErrMissingInput) {
		t.Errorf("expected ErrMissingInput, got %v", err)
	}
}

func TestEdgeCase_SortNoEvents(t *testing.T) {
	// Plenty of noise but a manual threshold nothing crosses.
	trial := pulseTrial(5000, 20000, 1, -50, nil, 47)

	cfg := DefaultConfig()
	cfg.Detection.Method = MethodManual
	cfg.Detection.ManualThresh = []float64{-1000}
	cfg.Detection.SampleRate = 20000
	_, err := Sort([]Trial{trial}, cfg)
	if !errors.Is(err, ErrMissingInput) {
		t.Errorf("expected ErrMissingInput for zero detections, got %v", err)
	}
}

func TestEdgeCase_TwoVectorClustering(t *testing.T) {
	features := [][]float64{{0, 0}, {10, 10}}
	cfg := DefaultClusteringConfig()
	cfg.Divisions = 4
	c, err := DivisiveKMeans(features, cfg)
	if err != nil {
		t.Fatalf("DivisiveKMeans: %v", err)
	}
	// Two points cannot form two legal clusters; they must share one.
	if c.K != 1 {
		t.Fatalf("K: got %d, want 1", c.K)
	}
	if c.Labels[0] != 1 || c.Labels[1] != 1 {
		t.Errorf("labels: got %v, want [1 1]", c.Labels)
	}
}

func TestEdgeCase_IdenticalVectors(t *testing.T) {
	features := make([][]float64, 20)
	for i := range features {
		features[i] = []float64{3, -1, 2}
	}
	cfg := DefaultClusteringConfig()
	cfg.Divisions = 4
	c, err := DivisiveKMeans(features, cfg)
	if err != nil {
		t.Fatalf("DivisiveKMeans: %v", err)
	}
	if c.MSE != 0 {
		t.Errorf("identical vectors: MSE got %v, want 0", c.MSE)
	}
	for j, size := range clusterSizes(c) {
		if size < 2 {
			t.Errorf("cluster %d has size %d", j+1, size)
		}
	}
}

func clusterSizes(c *Clustering) []int {
	sizes := make([]int, c.K)
	for _, l := range c.Labels {
		sizes[l-1]++
	}
	return sizes
}

func TestEdgeCase_ChannelCountMismatch(t *testing.T) {
	one := pulseTrial(2000, 20000, 1, -50, nil, 3)
	two := Trial{Data: [][]float64{{0, 0}, {0, 0}, {0, 0}}, SampleRate: 20000}

	cfg := DefaultDetectionConfig()
	cfg.SampleRate = 20000
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := s.Detect([]Trial{one}); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, err := s.Append(two); err == nil {
		t.Error("expected error for channel count mismatch, got nil")
	}
}

func TestEdgeCase_SampleRateMismatch(t *testing.T) {
	a := pulseTrial(2000, 20000, 1, -50, nil, 3)
	b := pulseTrial(2000, 44100, 1, -50, nil, 4)

	s, err := NewSession(DefaultDetectionConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := s.Detect([]Trial{a}); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if _, err := s.Append(b); err == nil {
		t.Error("expected error for sample rate mismatch, got nil")
	}
}

func TestEdgeCase_FeatureDimensionMismatch(t *testing.T) {
	features := [][]float64{{1, 2}, {3, 4}, {5}}
	if _, err := DivisiveKMeans(features, DefaultClusteringConfig()); err == nil {
		t.Error("expected error for ragged features, got nil")
	}
}
