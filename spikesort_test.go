package spikesort

import (
	"math/rand"
	"testing"
)

// templateA and templateB are two distinguishable spike shapes, each
// dominant on a different channel.
var (
	templateA = []float64{-10, -45, -30, -15, -5}
	templateB = []float64{-8, -35, -50, -25, -10}
)

// twoUnitTrial builds a 2-channel trial with template A and template B
// spikes alternating every 400 samples, in unit Gaussian noise.
func twoUnitTrial(n, spikes int, rate float64, seed int64) Trial {
	rng := rand.New(rand.NewSource(seed))
	data := make([][]float64, n)
	for i := range data {
		data[i] = []float64{rng.NormFloat64(), rng.NormFloat64()}
	}
	for s := 0; s < spikes; s++ {
		at := 300 + s*400
		tpl, ch := templateA, 0
		if s%2 == 1 {
			tpl, ch = templateB, 1
		}
		for j, v := range tpl {
			data[at+j][ch] += v
		}
	}
	return Trial{Data: data, SampleRate: rate}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Detection.Method != MethodAuto {
		t.Errorf("Detection.Method: got %q, want %q", cfg.Detection.Method, MethodAuto)
	}
	if cfg.Clustering.Reps != 1 {
		t.Errorf("Clustering.Reps: got %d, want 1", cfg.Clustering.Reps)
	}
	if cfg.Logger != nil {
		t.Error("Logger: got non-nil, want nil (silent by default)")
	}
}

// Full pipeline over two trials of two alternating units: detection finds
// every spike, clustering separates the units, and all output invariants
// hold together.
func TestSortEndToEnd(t *testing.T) {
	trials := []Trial{
		twoUnitTrial(14000, 30, 20000, 1),
		twoUnitTrial(14000, 30, 20000, 2),
	}

	cfg := DefaultConfig()
	cfg.Detection.SampleRate = 20000
	cfg.Detection.NoiseWindows = 200
	cfg.Clustering.Divisions = 1
	cfg.Clustering.Reps = 3
	res, err := Sort(trials, cfg)
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}

	if len(res.Events) != 60 {
		t.Fatalf("events: got %d, want 60", len(res.Events))
	}
	if len(res.Labels) != 60 || len(res.Features) != 60 {
		t.Fatalf("labels/features: got %d/%d, want 60/60", len(res.Labels), len(res.Features))
	}
	if res.Rank < 1 {
		t.Errorf("rank: got %d, want >= 1", res.Rank)
	}

	k := res.Energy.K()
	if len(res.Centroids) != k {
		t.Errorf("centroids: got %d, want K=%d", len(res.Centroids), k)
	}
	sizes := make([]int, k)
	for i, l := range res.Labels {
		if l < 1 || l > k {
			t.Fatalf("label %d of event %d outside 1..%d", l, i, k)
		}
		sizes[l-1]++
	}
	for j, s := range sizes {
		if s != res.Energy.Sizes()[j] {
			t.Errorf("cluster %d: label count %d != matrix size %d", j+1, s, res.Energy.Sizes()[j])
		}
	}

	// The origin channel identifies the unit; with a single division the
	// two units must separate almost perfectly.
	if k != 2 {
		t.Fatalf("K: got %d, want 2", k)
	}
	votes := map[int]map[int]int{}
	for i, ev := range res.Events {
		if votes[res.Labels[i]] == nil {
			votes[res.Labels[i]] = map[int]int{}
		}
		votes[res.Labels[i]][ev.Channel]++
	}
	impure := 0
	for _, byChannel := range votes {
		total, best := 0, 0
		for _, n := range byChannel {
			total += n
			if n > best {
				best = n
			}
		}
		impure += total - best
	}
	if impure > 3 {
		t.Errorf("cluster/unit disagreement on %d of 60 events", impure)
	}

	// Events carry continuous unwrapped times across the two trials.
	for i := 1; i < len(res.Events); i++ {
		if res.Events[i].UnwrappedTime <= res.Events[i-1].UnwrappedTime {
			t.Fatalf("unwrapped times not increasing at event %d", i)
		}
	}

	window := int(1.5 / 1000 * 20000)
	if r, c := res.NoiseCovariance.Dims(); r != window*2 || c != window*2 {
		t.Errorf("noise covariance dims: got %dx%d, want %dx%d", r, c, window*2, window*2)
	}
}

// The pipeline's relabeled energy matrix and labels stay consistent: the
// matrix diagonal is defined for every final cluster.
func TestSortEnergyDiagonalDefined(t *testing.T) {
	trials := []Trial{twoUnitTrial(14000, 30, 20000, 5)}

	cfg := DefaultConfig()
	cfg.Detection.SampleRate = 20000
	cfg.Detection.NoiseWindows = 100
	res, err := Sort(trials, cfg)
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	for a := 1; a <= res.Energy.K(); a++ {
		if _, err := res.Energy.Normalized(a, a); err != nil {
			t.Errorf("Normalized(%d,%d): %v", a, a, err)
		}
	}
}
