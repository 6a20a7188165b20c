// Package spikesort converts raw multi-channel extracellular voltage
// recordings into classified spike events.
//
// The pipeline has four stages: threshold-crossing detection with shadow
// suppression (Session), a variance-ranked orthogonal projection of the
// extracted waveforms (Reducer), divisive k-means clustering into
// miniclusters (DivisiveKMeans), and an interface-energy similarity matrix
// over those miniclusters with incremental merging and a deterministic
// greedy relabeling (EnergyMatrix).
//
// Basic usage:
//
//	cfg := spikesort.DefaultConfig()
//	result, err := spikesort.Sort(trials, cfg)
//	// result.Events[i] is a detected spike with its waveform
//	// result.Labels[i] is the minicluster ID (1..K) of event i
//	// result.Energy holds pairwise cluster similarities for merge tooling
//
// The stages are also usable individually. A Session freezes its detection
// thresholds on the first call and reuses them for appended trials, so a
// growing recording never shifts its own detection criterion:
//
//	s, _ := spikesort.NewSession(spikesort.DefaultDetectionConfig())
//	events, _ := s.Detect(firstTrials)
//	more, _ := s.Append(laterTrial) // same thresholds, continued timeline
//
// Interface energies support O(K) incremental merges via the additive merge
// law, so interactive cluster-merging tools never re-scan raw vectors.
package spikesort
